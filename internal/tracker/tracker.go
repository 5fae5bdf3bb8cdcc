// Package tracker defines the daily tracker entries users record and the
// catalog of categories and items those entries are validated against.
package tracker

import (
	"errors"
	"time"
)

// DateLayout is the calendar-day format used for entry dates and ranges.
const DateLayout = "2006-01-02"

// MaxNotesLength bounds free-text notes on entries, items and drafts.
const MaxNotesLength = 2000

// Built-in categories.
const (
	CategoryMood       = "mood"
	CategorySleep      = "sleep"
	CategoryMedication = "medication"
	CategoryBehavior   = "behavior"
	CategorySkills     = "skills"
	CategorySocial     = "social"
	CategorySelfCare   = "selfcare"
)

// ErrInvalidEntry is wrapped by every validation failure.
var ErrInvalidEntry = errors.New("tracker: invalid entry")

// ItemEntry records one catalog item on a given day: whether it was selected,
// an optional rating and an optional note.
type ItemEntry struct {
	Name     string `json:"name"`
	Selected bool   `json:"selected"`
	Rating   *int   `json:"rating,omitempty"`
	Note     string `json:"note,omitempty"`
}

// Entry is one user's record for one category on one day.
type Entry struct {
	ID        string      `json:"id"`
	UserID    string      `json:"userId"`
	Category  string      `json:"category"`
	Date      string      `json:"date"`
	Items     []ItemEntry `json:"items"`
	Notes     string      `json:"notes,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Day parses the entry date.
func (e Entry) Day() (time.Time, error) {
	return time.Parse(DateLayout, e.Date)
}

// Draft is an unsaved form for one category, kept per user until submitted or
// discarded.
type Draft struct {
	UserID   string      `json:"userId"`
	Category string      `json:"category"`
	Date     string      `json:"date,omitempty"`
	Items    []ItemEntry `json:"items"`
	Notes    string      `json:"notes,omitempty"`
	SavedAt  time.Time   `json:"savedAt"`
}

// Range is an inclusive span of calendar days.
type Range struct {
	From string
	To   string
}

// ParseRange validates from/to as calendar days. Empty bounds are open.
func ParseRange(from, to string) (Range, error) {
	r := Range{From: from, To: to}
	var start, end time.Time
	var err error
	if from != "" {
		if start, err = time.Parse(DateLayout, from); err != nil {
			return Range{}, invalidf("from %q is not a date", from)
		}
	}
	if to != "" {
		if end, err = time.Parse(DateLayout, to); err != nil {
			return Range{}, invalidf("to %q is not a date", to)
		}
	}
	if from != "" && to != "" && end.Before(start) {
		return Range{}, invalidf("range %s..%s is inverted", from, to)
	}
	return r, nil
}

// Contains reports whether day (YYYY-MM-DD) falls inside the range. Dates in
// DateLayout compare correctly as strings.
func (r Range) Contains(day string) bool {
	if r.From != "" && day < r.From {
		return false
	}
	if r.To != "" && day > r.To {
		return false
	}
	return true
}
