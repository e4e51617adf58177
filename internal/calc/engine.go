// Package calc computes task scores and assessment outcomes from answers.
package calc

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MinBZK/par-dpia-form/internal/model"
	"github.com/rs/zerolog/log"
)

// Evaluator evaluates an expression against a variable context. It must be
// free of side effects. Run-time failures should wrap ErrUnresolved.
type Evaluator interface {
	Evaluate(expr string, vars map[string]any) (any, error)
}

// ErrUnresolved marks an evaluation that failed at run time, typically on a
// null or missing operand. Conditions failing this way count as not met.
var ErrUnresolved = errors.New("unresolved operand")

// Scope says which part of a document an Error came from.
type Scope string

const (
	ScopeTask       Scope = "task"
	ScopeAssessment Scope = "assessment"
	ScopeCriterion  Scope = "criterion"
)

// Error is a failed evaluation. It never aborts a run.
type Error struct {
	Scope Scope
	ID    string
	Err   error
}

func (e Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Scope, e.ID, e.Err)
}

func (e Error) Unwrap() error { return e.Err }

// AssessmentResult is the matched level of one assessment.
type AssessmentResult struct {
	ID          string          `json:"id"`
	Level       string          `json:"level"`
	Result      string          `json:"result"`
	Explanation string          `json:"explanation,omitempty"`
	Required    bool            `json:"required"`
	Criteria    map[string]bool `json:"criteria,omitempty"`
}

// Results is the outcome of one calculation run.
type Results struct {
	Scores      map[string]float64 `json:"scores"`
	Assessments []AssessmentResult `json:"assessments"`
	Errors      []Error            `json:"-"`
}

// ErrorMessages returns the errors as strings.
func (r Results) ErrorMessages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, err := range r.Errors {
		out = append(out, err.Error())
	}
	return out
}

// Engine runs calculations with an injected evaluator.
type Engine struct {
	eval Evaluator
}

// NewEngine creates an engine.
func NewEngine(eval Evaluator) *Engine {
	return &Engine{eval: eval}
}

// Run computes task scores in tree order and then evaluates every assessment.
// Results are sorted by assessment id.
func (e *Engine) Run(doc *model.Document) Results {
	res := Results{Scores: map[string]float64{}, Assessments: []AssessmentResult{}}
	if doc == nil {
		return res
	}

	model.Walk(doc.Tasks, func(t *model.Task) {
		if t.Calculation == nil {
			return
		}
		if err := e.score(t.Calculation, res.Scores); err != nil {
			log.Debug().Err(err).Str("task_id", t.ID).Msg("calc: task score failed")
			res.Errors = append(res.Errors, Error{Scope: ScopeTask, ID: t.ID, Err: err})
		}
	})

	for _, a := range doc.Assessments {
		result, matched, errs := e.assess(a, res.Scores)
		res.Errors = append(res.Errors, errs...)
		if matched {
			res.Assessments = append(res.Assessments, result)
		}
	}
	sort.SliceStable(res.Assessments, func(i, j int) bool {
		return res.Assessments[i].ID < res.Assessments[j].ID
	})
	return res
}

func (e *Engine) score(c *model.Calculation, scores map[string]float64) error {
	raw, err := e.eval.Evaluate(c.Expression, nil)
	switch {
	case errors.Is(err, ErrUnresolved):
		log.Debug().Err(err).Str("score_key", c.ScoreKey).Msg("calc: score expression unresolved")
		raw = nil
	case err != nil:
		return err
	}
	if len(c.RiskScore) == 0 || c.ScoreKey == "" {
		return nil
	}
	vars := map[string]any{c.ScoreKey: raw}
	for _, row := range c.RiskScore {
		met, err := e.condition(row.When, vars)
		if err != nil {
			return fmt.Errorf("risk score %q: %w", row.When, err)
		}
		if met {
			scores[c.ScoreKey] = row.Value
			return nil
		}
	}
	return nil
}

// condition evaluates expr as a predicate. Unresolved operands make it false.
func (e *Engine) condition(expr string, vars map[string]any) (bool, error) {
	v, err := e.eval.Evaluate(expr, vars)
	if errors.Is(err, ErrUnresolved) {
		log.Debug().Err(err).Msg("calc: condition not met")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

func (e *Engine) assess(a model.Assessment, scores map[string]float64) (AssessmentResult, bool, []Error) {
	var errs []Error
	for _, level := range a.Levels {
		criteria := map[string]bool{}
		for _, c := range level.Criteria {
			met, err := e.condition(c.Expression, map[string]any{"scores": scores})
			if err != nil {
				errs = append(errs, Error{Scope: ScopeCriterion, ID: a.ID + "." + c.ID, Err: err})
				continue
			}
			criteria[c.ID] = met
		}

		met, err := e.condition(level.Expression, map[string]any{"scores": scores, "criteria": criteria})
		if err != nil {
			errs = append(errs, Error{Scope: ScopeAssessment, ID: a.ID, Err: err})
			return AssessmentResult{}, false, errs
		}
		if !met {
			continue
		}
		result := AssessmentResult{
			ID:          a.ID,
			Level:       level.Level,
			Result:      level.Result,
			Explanation: level.Explanation,
			Required:    IsRequiredLevel(level.Level),
		}
		if len(level.Criteria) > 0 {
			result.Criteria = criteria
		}
		return result, true, errs
	}
	return AssessmentResult{}, false, errs
}

// IsRequiredLevel reports whether a level obliges follow-up.
func IsRequiredLevel(level string) bool {
	switch strings.ToLower(level) {
	case "required", "recommended":
		return true
	default:
		return false
	}
}
