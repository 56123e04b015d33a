package config

// Config is the process configuration, read once at startup and hot
// reloaded on file changes. All durations are Go duration strings
// (e.g. "500ms", "45s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Monitor  MonitorConfig  `json:"monitor"`
	Notify   NotifyConfig   `json:"notify,omitempty"`

	// Source cosmetically tags outgoing alerts so multiple deployments
	// can be told apart. Overridable via the SOURCE env var.
	Source string `json:"source,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty in the file and supplied via the
	// TELEGRAM_BOT_TOKEN env var instead.
	Token string `json:"token"`
	// ChatID is the default destination for alerts and digests.
	ChatID int64 `json:"chat_id"`
	// OwnerIDs restricts who may issue commands; empty allows everyone.
	OwnerIDs    []int64 `json:"owner_ids,omitempty"`
	PollTimeout string  `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// MonitorConfig seeds the scheduler settings. Interval and StatusEvery
// can later be changed at runtime via /config.
type MonitorConfig struct {
	Interval    string `json:"interval,omitempty"`     // tick cadence, default "60s"
	StatusEvery int    `json:"status_every,omitempty"` // summary every N checks per watch, 0 disables
	Seats       int    `json:"seats,omitempty"`
	Departure   string `json:"departure,omitempty"` // station key, e.g. "saga"
	Arrival     string `json:"arrival,omitempty"`   // station key, e.g. "kameoka"

	ProbeTimeout string `json:"probe_timeout,omitempty"` // per probe, default "45s"

	// Digest is an optional 5-field cron spec for a periodic summary of
	// all watches (e.g. "0 8 * * *"). Empty disables it.
	Digest string `json:"digest,omitempty"`
}

type NotifyConfig struct {
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	DedupWindow   string `json:"dedup_window,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}
