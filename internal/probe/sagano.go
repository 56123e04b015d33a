package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"saganobot/internal/watch"
	logx "saganobot/pkg/logx"
)

// cardsJS collects every element whose text mentions a Sagano train along
// with the sold-out marker state. Filtering down to per-train cards
// happens Go-side in parseCards.
const cardsJS = `(() => {
	const out = [];
	for (const el of document.querySelectorAll('div')) {
		const text = el.innerText;
		if (!text || !text.includes('Sagano')) continue;
		out.push({
			text: text,
			closed: el.querySelector('svg[class*="seatIconClose"]') !== null,
		});
	}
	return out;
})()`

// Sagano drives a headless Chrome against the booking page. Each Check
// launches a fresh browser context so a wedged renderer never leaks into
// the next tick; the caller bounds the whole call with its context.
type Sagano struct {
	log logx.Logger
}

func NewSagano(log logx.Logger) *Sagano {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sagano{log: log}
}

func (s *Sagano) Check(ctx context.Context, req Request) (Result, error) {
	res := Result{Date: req.Date, URL: buildURL(req.Date, req.Seats)}
	if req.Departure == req.Arrival {
		return res, fmt.Errorf("departure and arrival are both %s", req.Departure)
	}

	s.log.Debug("probing",
		logx.String("date", req.Date),
		logx.String("dep", string(req.Departure)),
		logx.String("arr", string(req.Arrival)),
		logx.Int("seats", req.Seats))

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("lang", "en-US"),
		chromedp.Flag("accept-lang", "en-US"),
	)
	actx, acancel := chromedp.NewExecAllocator(ctx, opts...)
	defer acancel()
	cctx, ccancel := chromedp.NewContext(actx)
	defer ccancel()

	var raw []card
	err := chromedp.Run(cctx,
		chromedp.Navigate(res.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),

		// The station pickers are plain dropdowns with role=option entries.
		clickText("Please select the departure station"),
		chromedp.Sleep(500*time.Millisecond),
		clickOption(req.Departure),
		chromedp.Sleep(500*time.Millisecond),

		clickText("Please select the arrival station"),
		chromedp.Sleep(500*time.Millisecond),
		clickOption(req.Arrival),
		// Timetable loads after both stations are picked.
		chromedp.Sleep(1500*time.Millisecond),

		chromedp.Evaluate(cardsJS, &raw),
	)
	if err != nil {
		return res, fmt.Errorf("render %s: %w", req.Date, err)
	}

	res.AllSlots = parseCards(raw)
	if len(res.AllSlots) == 0 {
		// No train cards at all means the timetable never rendered; treat
		// as a probe failure rather than a sold-out date.
		return res, fmt.Errorf("no train cards found for %s", req.Date)
	}
	for _, slot := range res.AllSlots {
		if slot.Available {
			res.Available = true
			res.Slots = append(res.Slots, fmt.Sprintf("%s (%s)", slot.Time, slot.Train))
		}
	}

	s.log.Debug("probe done",
		logx.String("date", req.Date),
		logx.Bool("available", res.Available),
		logx.Int("trains", len(res.AllSlots)),
		logx.Int("open", len(res.Slots)))
	return res, nil
}

func clickText(text string) chromedp.Action {
	return chromedp.Click(fmt.Sprintf(`//*[contains(text(), %q)]`, text), chromedp.BySearch)
}

func clickOption(station watch.Station) chromedp.Action {
	return chromedp.Click(fmt.Sprintf(`//*[@role="option"][contains(., %q)]`, string(station)), chromedp.BySearch)
}
