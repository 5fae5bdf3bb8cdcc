package tracker

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/l0p7/moodtrack/internal/config"
)

const (
	DefaultRatingMin = 0
	DefaultRatingMax = 10
)

// Insight is a dashboard observation: a condition over a summary and the
// message shown when it holds.
type Insight struct {
	Name      string `json:"name"`
	Condition string `json:"condition"`
	Message   string `json:"message"`
}

// Definition describes one tracker category.
type Definition struct {
	Name      string    `json:"name"`
	Label     string    `json:"label"`
	Items     []string  `json:"items"`
	RatingMin int       `json:"ratingMin"`
	RatingMax int       `json:"ratingMax"`
	Insights  []Insight `json:"insights,omitempty"`
}

// HasItem reports whether name is one of the category's items.
func (d Definition) HasItem(name string) bool {
	for _, item := range d.Items {
		if item == name {
			return true
		}
	}
	return false
}

// Catalog is an immutable set of tracker definitions keyed by category.
type Catalog struct {
	defs map[string]Definition
}

// DefaultCatalog returns the built-in categories.
func DefaultCatalog() *Catalog {
	return &Catalog{defs: builtinDefinitions()}
}

// NewCatalog layers configured trackers over the built-in ones. A configured
// tracker replaces the built-in definition of the same name; missing labels and
// rating bounds fall back to the built-in or default values.
func NewCatalog(trackers map[string]config.TrackerConfig) *Catalog {
	defs := builtinDefinitions()
	for name, cfg := range trackers {
		name = strings.ToLower(strings.TrimSpace(name))
		base, ok := defs[name]
		if !ok {
			base = Definition{Name: name, Label: titleCase(name), RatingMin: DefaultRatingMin, RatingMax: DefaultRatingMax}
		}
		def := base
		if cfg.Label != "" {
			def.Label = cfg.Label
		}
		if len(cfg.Items) > 0 {
			def.Items = trimAll(cfg.Items)
		}
		if cfg.RatingMin != nil {
			def.RatingMin = *cfg.RatingMin
		}
		if cfg.RatingMax != nil {
			def.RatingMax = *cfg.RatingMax
		}
		if len(cfg.Insights) > 0 {
			def.Insights = make([]Insight, 0, len(cfg.Insights))
			for _, in := range cfg.Insights {
				def.Insights = append(def.Insights, Insight{Name: in.Name, Condition: in.Condition, Message: in.Message})
			}
		}
		defs[name] = def
	}
	return &Catalog{defs: defs}
}

// Get returns the definition for category.
func (c *Catalog) Get(category string) (Definition, bool) {
	def, ok := c.defs[category]
	return def, ok
}

// Names lists the categories in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.defs))
	for name := range c.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions lists every definition ordered by category name.
func (c *Catalog) Definitions() []Definition {
	names := c.Names()
	out := make([]Definition, 0, len(names))
	for _, name := range names {
		out = append(out, c.defs[name])
	}
	return out
}

// Validate checks an entry against the catalog. Failures wrap ErrInvalidEntry.
func (c *Catalog) Validate(entry Entry) error {
	if strings.TrimSpace(entry.UserID) == "" {
		return invalidf("user required")
	}
	if _, err := entry.Day(); err != nil {
		return invalidf("date %q must be YYYY-MM-DD", entry.Date)
	}
	return c.validateItems(entry.Category, entry.Items, entry.Notes)
}

// ValidateDraft applies the entry rules that make sense for an unfinished form.
func (c *Catalog) ValidateDraft(draft Draft) error {
	if strings.TrimSpace(draft.UserID) == "" {
		return invalidf("user required")
	}
	if draft.Date != "" {
		if _, err := time.Parse(DateLayout, draft.Date); err != nil {
			return invalidf("date %q must be YYYY-MM-DD", draft.Date)
		}
	}
	return c.validateItems(draft.Category, draft.Items, draft.Notes)
}

func (c *Catalog) validateItems(category string, items []ItemEntry, notes string) error {
	def, ok := c.Get(category)
	if !ok {
		return invalidf("unknown category %q", category)
	}
	if len([]rune(notes)) > MaxNotesLength {
		return invalidf("notes exceed %d characters", MaxNotesLength)
	}
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if !def.HasItem(item.Name) {
			return invalidf("%s has no item %q", category, item.Name)
		}
		if _, dup := seen[item.Name]; dup {
			return invalidf("item %q listed twice", item.Name)
		}
		seen[item.Name] = struct{}{}
		if item.Rating != nil {
			if !item.Selected {
				return invalidf("item %q rated but not selected", item.Name)
			}
			if *item.Rating < def.RatingMin || *item.Rating > def.RatingMax {
				return invalidf("item %q rating %d outside %d..%d", item.Name, *item.Rating, def.RatingMin, def.RatingMax)
			}
		}
		if len([]rune(item.Note)) > MaxNotesLength {
			return invalidf("item %q note exceeds %d characters", item.Name, MaxNotesLength)
		}
	}
	return nil
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidEntry, fmt.Sprintf(format, args...))
}

func trimAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, strings.TrimSpace(item))
	}
	return out
}

func titleCase(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func builtinDefinitions() map[string]Definition {
	def := func(name, label string, items []string, insights ...Insight) Definition {
		return Definition{
			Name:      name,
			Label:     label,
			Items:     items,
			RatingMin: DefaultRatingMin,
			RatingMax: DefaultRatingMax,
			Insights:  insights,
		}
	}
	return map[string]Definition{
		CategoryMood: def(CategoryMood, "Mood",
			[]string{"happy", "calm", "sad", "anxious", "angry", "irritable", "hopeless", "energetic"},
			Insight{
				Name:      "frequent-anxiety",
				Condition: `"anxious" in items && items["anxious"].selected >= 3`,
				Message:   `Anxiety was logged on {{ .items.anxious.selected }} days in this period.`,
			},
			Insight{
				Name:      "low-mood",
				Condition: `"happy" in items && items["happy"].rated >= 3 && items["happy"].average < 4.0`,
				Message:   `Happiness averaged {{ printf "%.1f" .items.happy.average }}; consider reaching out to your support network.`,
			},
		),
		CategorySleep: def(CategorySleep, "Sleep",
			[]string{"restful", "trouble falling asleep", "woke during night", "nightmares", "napped", "overslept"},
			Insight{
				Name:      "restless-nights",
				Condition: `"woke during night" in items && summary.entries > 0 && double(items["woke during night"].selected) / double(summary.entries) > 0.5`,
				Message:   `You woke during the night on more than half of the logged days.`,
			},
		),
		CategoryMedication: def(CategoryMedication, "Medication",
			[]string{"morning dose", "evening dose", "missed dose", "side effects"},
			Insight{
				Name:      "missed-doses",
				Condition: `"missed dose" in items && items["missed dose"].selected >= 2`,
				Message:   `{{ .items | dig "missed dose" "selected" 0 }} missed doses were recorded.`,
			},
		),
		CategoryBehavior: def(CategoryBehavior, "Behavior",
			[]string{"exercise", "isolating", "impulsive spending", "substance use", "self-harm urges"}),
		CategorySkills: def(CategorySkills, "Skills",
			[]string{"mindfulness", "distress tolerance", "emotion regulation", "interpersonal effectiveness", "opposite action"}),
		CategorySocial: def(CategorySocial, "Social",
			[]string{"time with friends", "family contact", "reached out", "conflict", "felt lonely"}),
		CategorySelfCare: def(CategorySelfCare, "Spirituality & Self-care",
			[]string{"meditation", "prayer", "time in nature", "journaling", "healthy meal", "hygiene"}),
	}
}
