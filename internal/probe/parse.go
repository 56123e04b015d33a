package probe

import (
	"fmt"
	"net/url"
	"regexp"
)

const baseURL = "https://file.sagano.linktivity.io/seat/51/down"

var (
	timeRe  = regexp.MustCompile(`\d{2}:\d{2}`)
	trainRe = regexp.MustCompile(`Sagano \d+`)
)

// buildURL reproduces the booking deep link the site itself uses; the same
// link is embedded in alert messages so the user lands on the seat step.
func buildURL(date string, seats int) string {
	q := url.Values{}
	q.Set("lang", "en")
	q.Set("date", date)
	q.Set("unitsCount", fmt.Sprintf("%d", seats))
	q.Set("backUrl", "https://ars-saganokanko.triplabo.jp/activity/en/LINKTIVITY-YRBTL")
	q.Set("redirectUrl", "https://ars-saganokanko.triplabo.jp/booking/pay")
	q.Set("currentStep", "station")
	return baseURL + "?" + q.Encode()
}

// card is the raw per-element extract pulled out of the rendered page:
// the element's visible text plus whether it contains the "closed seat"
// SVG marker the site renders for sold-out trains.
type card struct {
	Text   string `json:"text"`
	Closed bool   `json:"closed"`
}

// parseCards turns raw page extracts into the deduplicated slot list.
//
// A usable card names exactly one train ("Sagano N") and carries at least
// a departure and an arrival time; container elements wrapping the whole
// timetable name several trains and are skipped. The first card seen for
// a train wins.
func parseCards(cards []card) []Slot {
	var slots []Slot
	seen := map[string]bool{}
	for _, c := range cards {
		trains := trainRe.FindAllString(c.Text, 2)
		if len(trains) != 1 {
			continue
		}
		times := timeRe.FindAllString(c.Text, -1)
		if len(times) < 2 {
			continue
		}
		name := trains[0]
		if seen[name] {
			continue
		}
		seen[name] = true
		slots = append(slots, Slot{
			Time:      times[0],
			Train:     name,
			Available: !c.Closed,
		})
	}
	return slots
}
