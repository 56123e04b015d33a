package probe

import (
	"net/url"
	"strings"
	"testing"
)

func TestBuildURL(t *testing.T) {
	t.Parallel()

	raw := buildURL("2025-12-05", 2)
	if !strings.HasPrefix(raw, baseURL+"?") {
		t.Fatalf("url = %q, want prefix %q", raw, baseURL+"?")
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	q := u.Query()
	want := map[string]string{
		"lang":        "en",
		"date":        "2025-12-05",
		"unitsCount":  "2",
		"currentStep": "station",
		"backUrl":     "https://ars-saganokanko.triplabo.jp/activity/en/LINKTIVITY-YRBTL",
		"redirectUrl": "https://ars-saganokanko.triplabo.jp/booking/pay",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("query %s = %q, want %q", k, got, v)
		}
	}
	if len(q) != len(want) {
		t.Errorf("query has %d params, want %d: %v", len(q), len(want), q)
	}
}

func TestParseCards(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		cards []card
		want  []Slot
	}{
		{
			name: "open and closed trains",
			cards: []card{
				{Text: "Sagano 1 09:02 → 09:25 From ¥880", Closed: false},
				{Text: "Sagano 3 10:02 → 10:25 From ¥880", Closed: true},
			},
			want: []Slot{
				{Time: "09:02", Train: "Sagano 1", Available: true},
				{Time: "10:02", Train: "Sagano 3", Available: false},
			},
		},
		{
			name: "container naming several trains is skipped",
			cards: []card{
				{Text: "Sagano 1 09:02 09:25 Sagano 3 10:02 10:25", Closed: false},
				{Text: "Sagano 1 09:02 → 09:25", Closed: false},
			},
			want: []Slot{{Time: "09:02", Train: "Sagano 1", Available: true}},
		},
		{
			name: "first card per train wins",
			cards: []card{
				{Text: "Sagano 5 13:02 → 13:25", Closed: true},
				{Text: "Sagano 5 13:02 → 13:25", Closed: false},
			},
			want: []Slot{{Time: "13:02", Train: "Sagano 5", Available: false}},
		},
		{
			name: "single time is not a timetable row",
			cards: []card{
				{Text: "Sagano 1 departs at 09:02", Closed: false},
			},
			want: nil,
		},
		{
			name: "no train name",
			cards: []card{
				{Text: "09:02 → 09:25 From ¥880", Closed: false},
			},
			want: nil,
		},
		{
			name:  "empty input",
			cards: nil,
			want:  nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := parseCards(tc.cards)
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("slot[%d] = %+v, want %+v", i, got[i], tc.want[i])
				}
			}
		})
	}
}
