// internal/sitescript/runner.go
package sitescript

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/autofill"
	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/profile"
)

var (
	// ErrBlacklisted is returned when the page origin is on the blacklist.
	ErrBlacklisted = errors.New("sitescript: origin is blacklisted")
	// ErrDisabled is returned when the site's settings turn autofill off.
	ErrDisabled = errors.New("sitescript: autofill is disabled for this site")
	// ErrOriginMismatch is returned when the script or settings do not cover the origin.
	ErrOriginMismatch = errors.New("sitescript: script does not run on this origin")
)

// Filler is the slice of the autofill engine a run needs.
type Filler interface {
	Autofill(ctx context.Context, f autofill.Field) (autofill.Element, error)
	Race(ctx context.Context, fields ...autofill.Field) (autofill.Element, int, error)
	WaitForSelector(ctx context.Context, selector string, opts ...autofill.Option) (autofill.Element, error)
	WaitForTimeout(ctx context.Context, d time.Duration) error
}

var _ Filler = (*autofill.Engine)(nil)

// RunInput is everything one run reads.
type RunInput struct {
	Script    *Script
	Profile   profile.Profile
	Settings  profile.Settings
	Blacklist profile.Blacklist
	// Origin is the page's origin, checked against the blacklist and the script.
	Origin string
}

// FieldResult records one committed field.
type FieldResult struct {
	Step     string `json:"step"`
	Query    string `json:"query"`
	Element  string `json:"element"`
	Checkout bool   `json:"checkout,omitempty"`
	// Alternative is the index of the winning alternative, or -1.
	Alternative int `json:"alternative"`
}

// Report summarizes a run. It is returned even when the run fails partway.
type Report struct {
	RunID        string        `json:"run_id"`
	Site         string        `json:"site"`
	Origin       string        `json:"origin"`
	Started      time.Time     `json:"started"`
	Finished     time.Time     `json:"finished"`
	Fields       []FieldResult `json:"fields"`
	CheckoutRan  bool          `json:"checkout_ran"`
	StepsSkipped int           `json:"steps_skipped,omitempty"`
}

// Runner executes site scripts through a Filler.
type Runner struct {
	filler       Filler
	logger       *zap.Logger
	fieldTimeout time.Duration
	dispatchKeys bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithFieldTimeout bounds each field. Zero leaves fields unbounded.
func WithFieldTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.fieldTimeout = d }
}

// WithDispatchKeys turns on keydown/keyup for every text field.
func WithDispatchKeys(on bool) RunnerOption {
	return func(r *Runner) { r.dispatchKeys = on }
}

// NewRunner builds a runner over filler.
func NewRunner(filler Filler, opts ...RunnerOption) *Runner {
	r := &Runner{filler: filler, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("sitescript")
	return r
}

// Run fills every step of in.Script in order. Fields within a step run
// concurrently and the first failure cancels the step. Checkout fields run
// only when the settings enable autocheckout.
func (r *Runner) Run(ctx context.Context, in RunInput) (*Report, error) {
	if in.Script == nil {
		return nil, fmt.Errorf("sitescript: no script")
	}
	if in.Blacklist.IsBlacklisted(in.Origin) {
		return nil, fmt.Errorf("%w: %s", ErrBlacklisted, in.Origin)
	}
	if !in.Settings.AutofillEnabled {
		return nil, fmt.Errorf("%w: %s", ErrDisabled, in.Script.ID)
	}
	if !in.Script.MatchesOrigin(in.Origin) ||
		(in.Settings.Origin != "" && !profile.MatchHost(in.Settings.Origin, in.Origin)) {
		return nil, fmt.Errorf("%w: %s on %s", ErrOriginMismatch, in.Script.ID, in.Origin)
	}

	mode := autofill.Fast
	if in.Settings.Mode != "" {
		m, err := autofill.ParseMode(string(in.Settings.Mode))
		if err != nil {
			return nil, err
		}
		mode = m
	}

	report := &Report{
		RunID:   uuid.NewString(),
		Site:    in.Script.ID,
		Origin:  in.Origin,
		Started: time.Now(),
	}
	logger := r.logger.With(zap.String("run_id", report.RunID), zap.String("site", report.Site))
	logger.Info("Site run started.", zap.Int("steps", len(in.Script.Steps)), zap.String("mode", string(mode)))

	finish := func(err error) (*Report, error) {
		report.Finished = time.Now()
		if err != nil {
			logger.Warn("Site run failed.", zap.Error(err), zap.Int("fields_committed", len(report.Fields)))
			return report, err
		}
		logger.Info("Site run finished.", zap.Int("fields_committed", len(report.Fields)), zap.Duration("took", report.Finished.Sub(report.Started)))
		return report, nil
	}

	for i, step := range in.Script.Steps {
		if step.Delay > 0 {
			if err := r.filler.WaitForTimeout(ctx, step.Delay); err != nil {
				report.StepsSkipped = len(in.Script.Steps) - i
				return finish(fmt.Errorf("step %s: %w", step.Name, err))
			}
		}

		results, err := r.runStep(ctx, step, in.Profile, mode)
		report.Fields = append(report.Fields, results...)
		if err != nil {
			report.StepsSkipped = len(in.Script.Steps) - i - 1
			return finish(fmt.Errorf("step %s: %w", step.Name, err))
		}

		if !in.Settings.AutocheckoutEnabled || len(step.Checkout) == 0 {
			continue
		}
		report.CheckoutRan = true
		for j := range step.Checkout {
			res, err := r.fill(ctx, step.Name, &step.Checkout[j], in.Profile, mode)
			if err != nil {
				report.StepsSkipped = len(in.Script.Steps) - i - 1
				return finish(fmt.Errorf("step %s checkout: %w", step.Name, err))
			}
			res.Checkout = true
			report.Fields = append(report.Fields, res)
		}
	}
	return finish(nil)
}

// runStep fills a step's fields concurrently. Results of fields that
// committed are returned even when another field failed.
func (r *Runner) runStep(ctx context.Context, step Step, p profile.Profile, mode autofill.Mode) ([]FieldResult, error) {
	results := make([]*FieldResult, len(step.Fields))
	g, gctx := errgroup.WithContext(ctx)
	for i := range step.Fields {
		spec := &step.Fields[i]
		g.Go(func() error {
			res, err := r.fill(gctx, step.Name, spec, p, mode)
			if err != nil {
				return err
			}
			results[i] = &res
			return nil
		})
	}
	err := g.Wait()

	out := make([]FieldResult, 0, len(results))
	for _, res := range results {
		if res != nil {
			out = append(out, *res)
		}
	}
	return out, err
}

// fill resolves one spec, racing its alternatives if it has any.
func (r *Runner) fill(ctx context.Context, stepName string, spec *FieldSpec, p profile.Profile, mode autofill.Mode) (FieldResult, error) {
	if r.fieldTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.fieldTimeout)
		defer cancel()
	}

	var parent autofill.Element
	if spec.Parent != "" {
		el, err := r.filler.WaitForSelector(ctx, spec.Parent)
		if err != nil {
			return FieldResult{}, fmt.Errorf("parent %q: %w", spec.Parent, err)
		}
		parent = el
	}

	if len(spec.Alternatives) == 0 {
		f, err := r.field(spec, p, mode, parent)
		if err != nil {
			return FieldResult{}, err
		}
		el, err := r.filler.Autofill(ctx, f)
		if err != nil {
			return FieldResult{}, err
		}
		r.logger.Debug("Field filled.", zap.String("step", stepName), zap.Stringer("query", f.Query))
		return FieldResult{Step: stepName, Query: f.Query.String(), Element: describe(el), Alternative: -1}, nil
	}

	fields := make([]autofill.Field, len(spec.Alternatives))
	for i := range spec.Alternatives {
		f, err := r.field(&spec.Alternatives[i], p, mode, parent)
		if err != nil {
			return FieldResult{}, err
		}
		fields[i] = f
	}
	el, idx, err := r.filler.Race(ctx, fields...)
	if err != nil {
		return FieldResult{}, err
	}
	r.logger.Debug("Alternative won.", zap.String("step", stepName), zap.Int("index", idx), zap.Stringer("query", fields[idx].Query))
	return FieldResult{Step: stepName, Query: fields[idx].Query.String(), Element: describe(el), Alternative: idx}, nil
}

// field builds the engine descriptor for spec.
func (r *Runner) field(spec *FieldSpec, p profile.Profile, mode autofill.Mode, parent autofill.Element) (autofill.Field, error) {
	value, err := spec.Render(p)
	if err != nil {
		return autofill.Field{}, err
	}
	if spec.Mode != "" {
		if mode, err = autofill.ParseMode(spec.Mode); err != nil {
			return autofill.Field{}, err
		}
	}

	var opts []autofill.Option
	if parent != nil {
		opts = append(opts, autofill.WithParent(parent))
	}
	if spec.Visible != nil {
		opts = append(opts, autofill.WithVisible(*spec.Visible))
	}
	if spec.DispatchKeys || r.dispatchKeys {
		opts = append(opts, autofill.WithDispatchKeys())
	}
	if spec.ByText {
		opts = append(opts, autofill.WithSelectByText())
	}
	return autofill.NewField(spec.Query(), value, mode, opts...)
}

func describe(el autofill.Element) string {
	if el == nil {
		return ""
	}
	return el.String()
}
