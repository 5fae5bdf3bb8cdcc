// Package dashboard aggregates tracker entries into the per-category views the
// dashboard charts, and evaluates catalog insights against them.
package dashboard

import (
	"sort"
	"time"

	"github.com/l0p7/moodtrack/internal/tracker"
)

// ItemStats aggregates one item over a range. Min and Max are only meaningful
// when Rated is positive.
type ItemStats struct {
	Selected int     `json:"selected"`
	Rated    int     `json:"rated"`
	Average  float64 `json:"average"`
	Min      int     `json:"min"`
	Max      int     `json:"max"`
}

// DayPoint is one point of the daily chart series.
type DayPoint struct {
	Date     string   `json:"date"`
	Entries  int      `json:"entries"`
	Selected int      `json:"selected"`
	Average  *float64 `json:"average,omitempty"`
}

// Finding is an insight whose condition held for a summary.
type Finding struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Summary is the dashboard view of one category over a range.
type Summary struct {
	Category string               `json:"category"`
	From     string               `json:"from,omitempty"`
	To       string               `json:"to,omitempty"`
	Entries  int                  `json:"entries"`
	Days     int                  `json:"days"`
	Items    map[string]ItemStats `json:"items"`
	Series   []DayPoint           `json:"series"`
	Insights []Finding            `json:"insights"`
}

type dayAccumulator struct {
	entries  int
	selected int
	sum      int
	rated    int
}

// Summarize aggregates the entries of def's category that fall inside r. Every
// catalog item appears in Items, with zero counts when never selected.
func Summarize(def tracker.Definition, r tracker.Range, entries []tracker.Entry) Summary {
	s := Summary{
		Category: def.Name,
		From:     r.From,
		To:       r.To,
		Items:    make(map[string]ItemStats, len(def.Items)),
		Series:   []DayPoint{},
		Insights: []Finding{},
	}
	for _, name := range def.Items {
		s.Items[name] = ItemStats{}
	}

	sums := make(map[string]int)
	days := make(map[string]*dayAccumulator)
	for _, entry := range entries {
		if entry.Category != def.Name || !r.Contains(entry.Date) {
			continue
		}
		s.Entries++
		day, ok := days[entry.Date]
		if !ok {
			day = &dayAccumulator{}
			days[entry.Date] = day
		}
		day.entries++

		for _, item := range entry.Items {
			if !item.Selected {
				continue
			}
			stats := s.Items[item.Name]
			stats.Selected++
			day.selected++
			if item.Rating != nil {
				v := *item.Rating
				if stats.Rated == 0 || v < stats.Min {
					stats.Min = v
				}
				if stats.Rated == 0 || v > stats.Max {
					stats.Max = v
				}
				stats.Rated++
				sums[item.Name] += v
				day.sum += v
				day.rated++
			}
			s.Items[item.Name] = stats
		}
	}

	for name, stats := range s.Items {
		if stats.Rated > 0 {
			stats.Average = float64(sums[name]) / float64(stats.Rated)
			s.Items[name] = stats
		}
	}

	s.Days = len(days)
	dates := make([]string, 0, len(days))
	for date := range days {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	for _, date := range dates {
		day := days[date]
		point := DayPoint{Date: date, Entries: day.entries, Selected: day.selected}
		if day.rated > 0 {
			avg := float64(day.sum) / float64(day.rated)
			point.Average = &avg
		}
		s.Series = append(s.Series, point)
	}
	return s
}

// vars exposes the summary to insight conditions and message templates.
// Counts stay Go ints so CEL sees them as int and sprig's dig can default them.
func (s Summary) vars(now time.Time) map[string]any {
	items := make(map[string]any, len(s.Items))
	for name, stats := range s.Items {
		items[name] = map[string]any{
			"selected": stats.Selected,
			"rated":    stats.Rated,
			"average":  stats.Average,
			"min":      stats.Min,
			"max":      stats.Max,
		}
	}
	return map[string]any{
		"summary": map[string]any{
			"category": s.Category,
			"from":     s.From,
			"to":       s.To,
			"entries":  s.Entries,
			"days":     s.Days,
		},
		"items": items,
		"now":   now,
	}
}
