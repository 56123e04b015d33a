// Package transport defines chat-platform-neutral types shared between
// the Telegram adapter and the services that consume it.
//
// Contract:
//   - Adapter.Start forwards inbound updates into the provided channel
//     and MUST NOT block on a slow consumer (drop instead).
//   - SendText is the only outbound primitive the services rely on.
package transport

import "context"

type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

// ChatTarget identifies where a message is delivered.
type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string // "HTML" for formatted alerts, empty for plain text
	DisablePreview bool
}

// Notification is a queued outbound message handled by the notify pipeline.
type Notification struct {
	Priority int // 0 low .. 10 high; >=8 alert, >=5 warning
	Target   ChatTarget
	Text     string
	Options  *SendOptions
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// BotCommand is one entry of the platform command menu (Telegram /menu).
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional adapter capability for platforms that
// expose a bot command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
