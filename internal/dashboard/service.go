package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/l0p7/moodtrack/internal/fetch"
	"github.com/l0p7/moodtrack/internal/store"
	"github.com/l0p7/moodtrack/internal/tracker"
)

// KeyPrefix starts every dashboard cache key. A catalog reload invalidates
// the prefix because insights and item lists may have changed.
const KeyPrefix = "dashboard:"

// ServiceOptions wires a Service.
type ServiceOptions struct {
	Repository store.Repository
	Catalogs   *tracker.Registry
	Client     *fetch.Client
	Insights   *Evaluator
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Service serves summaries through the shared fetch client, so concurrent
// dashboard loads for one user collapse into a single repository read.
type Service struct {
	repo     store.Repository
	catalogs *tracker.Registry
	client   *fetch.Client
	insights *Evaluator
	logger   *slog.Logger
	now      func() time.Time
}

// NewService validates opts and builds a Service.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Repository == nil {
		return nil, errors.New("dashboard: repository required")
	}
	if opts.Client == nil {
		return nil, errors.New("dashboard: fetch client required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	catalogs := opts.Catalogs
	if catalogs == nil {
		catalogs = tracker.NewRegistry(nil)
	}
	insights := opts.Insights
	if insights == nil {
		var err error
		if insights, err = NewEvaluator(logger); err != nil {
			return nil, err
		}
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		repo:     opts.Repository,
		catalogs: catalogs,
		client:   opts.Client,
		insights: insights,
		logger:   logger.With(slog.String("agent", "dashboard")),
		now:      clock,
	}, nil
}

// SummaryKey is the cache key for one user's summary of category over r.
func SummaryKey(user, category string, r tracker.Range) string {
	return KeyPrefix + strings.Join([]string{user, category, r.From, r.To}, ":")
}

// Summary returns user's summary for category over r. An unknown category is
// reported as a tracker.ErrInvalidEntry error; fetch failures surface in the
// returned state.
func (s *Service) Summary(ctx context.Context, user, category string, r tracker.Range, p fetch.Policy) (fetch.State[Summary], error) {
	def, ok := s.catalogs.Load().Get(category)
	if !ok {
		return fetch.State[Summary]{}, fmt.Errorf("%w: unknown category %q", tracker.ErrInvalidEntry, category)
	}
	opts := fetch.QueryOptions{
		Key:     SummaryKey(user, category, r),
		Owner:   user,
		Enabled: user != "",
	}
	st := fetch.Do(ctx, s.client, opts, p, func(ctx context.Context) (Summary, error) {
		entries, err := s.repo.ListEntries(ctx, store.EntryQuery{
			UserID:   user,
			Category: category,
			From:     r.From,
			To:       r.To,
		})
		if err != nil {
			return Summary{}, err
		}
		summary := Summarize(def, r, entries)
		summary.Insights = s.insights.Evaluate(def, summary, s.now())
		s.logger.Debug("summary built",
			slog.String("category", category),
			slog.Int("entries", summary.Entries),
			slog.Int("insights", len(summary.Insights)),
		)
		return summary, nil
	})
	return st, nil
}
