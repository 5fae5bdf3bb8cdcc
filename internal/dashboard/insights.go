package dashboard

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/l0p7/moodtrack/internal/expr"
	"github.com/l0p7/moodtrack/internal/templates"
	"github.com/l0p7/moodtrack/internal/tracker"
)

// Evaluator runs catalog insights against summaries. Compiled conditions and
// templates are memoised by source text, so a catalog reload only compiles
// what changed.
type Evaluator struct {
	env      *expr.Environment
	renderer *templates.Renderer
	logger   *slog.Logger

	mu       sync.Mutex
	programs map[string]expr.Program
	messages map[string]*templates.Template
}

// NewEvaluator prepares the CEL environment and template renderer.
func NewEvaluator(logger *slog.Logger) (*Evaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	env, err := expr.NewEnvironment()
	if err != nil {
		return nil, err
	}
	return &Evaluator{
		env:      env,
		renderer: templates.NewRenderer(),
		logger:   logger.With(slog.String("agent", "insights")),
		programs: make(map[string]expr.Program),
		messages: make(map[string]*templates.Template),
	}, nil
}

// Check compiles every insight of def and reports all failures.
func (e *Evaluator) Check(def tracker.Definition) error {
	var errs []error
	for _, insight := range def.Insights {
		if _, err := e.program(insight.Condition); err != nil {
			errs = append(errs, fmt.Errorf("dashboard: %s/%s: %w", def.Name, insight.Name, err))
		}
		if _, err := e.message(def.Name+"/"+insight.Name, insight.Message); err != nil {
			errs = append(errs, fmt.Errorf("dashboard: %s/%s: %w", def.Name, insight.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Evaluate returns the findings whose conditions hold for s, in catalog order.
// An insight that fails to compile, evaluate or render is logged and skipped.
func (e *Evaluator) Evaluate(def tracker.Definition, s Summary, now time.Time) []Finding {
	findings := []Finding{}
	if len(def.Insights) == 0 {
		return findings
	}
	vars := s.vars(now)
	for _, insight := range def.Insights {
		log := e.logger.With(slog.String("category", def.Name), slog.String("insight", insight.Name))
		program, err := e.program(insight.Condition)
		if err != nil {
			log.Warn("insight condition invalid", slog.Any("error", err))
			continue
		}
		ok, err := program.EvalBool(vars)
		if err != nil {
			log.Warn("insight evaluation failed", slog.String("condition", program.Source()), slog.Any("error", err))
			continue
		}
		if !ok {
			continue
		}
		tmpl, err := e.message(def.Name+"/"+insight.Name, insight.Message)
		if err != nil {
			log.Warn("insight message invalid", slog.Any("error", err))
			continue
		}
		message := insight.Name
		if tmpl != nil {
			if message, err = tmpl.Render(vars); err != nil {
				log.Warn("insight message render failed", slog.String("template", tmpl.Name()), slog.Any("error", err))
				continue
			}
		}
		findings = append(findings, Finding{Name: insight.Name, Message: message})
	}
	return findings
}

func (e *Evaluator) program(condition string) (expr.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if program, ok := e.programs[condition]; ok {
		return program, nil
	}
	program, err := e.env.Compile(condition)
	if err != nil {
		return expr.Program{}, err
	}
	e.programs[condition] = program
	return program, nil
}

// message returns nil for an empty source; callers fall back to the insight name.
func (e *Evaluator) message(name, source string) (*templates.Template, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if tmpl, ok := e.messages[source]; ok {
		return tmpl, nil
	}
	tmpl, err := e.renderer.CompileInline(name, source)
	if err != nil {
		return nil, err
	}
	e.messages[source] = tmpl
	return tmpl, nil
}
