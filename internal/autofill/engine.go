// internal/autofill/engine.go
//
// Package autofill finds checkout form fields under asynchronous, mutating
// DOM conditions and commits values into them with the event sequences that
// framework-driven pages require.
//
// The engine talks to the DOM only through a Page host, so the same pipeline
// runs against a live Chrome tab (internal/browser/cdp) or an in-memory
// document (internal/browser/memdom).
//
// Waits have no timeout of their own. A selector that never matches blocks
// until the context passed in is cancelled; with context.Background() that
// is forever. Pass a deadline when a bounded wait is wanted.
package autofill

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine wires the locator, mode dispatcher and injector for one page.
type Engine struct {
	page       Page
	locator    *Locator
	injector   *Injector
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger. Components log at Debug only.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine builds an engine over page.
func NewEngine(page Page, opts ...EngineOption) *Engine {
	e := &Engine{page: page, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("autofill")
	e.locator = NewLocator(page, e.logger)
	e.injector = NewInjector(page, e.logger)
	e.dispatcher = NewDispatcher(page)
	return e
}

// Page returns the host the engine drives.
func (e *Engine) Page() Page { return e.page }

// Autofill resolves the field's element, waits for its mode gate and commits
// the value. It returns the written element (the chosen option for choice
// controls).
func (e *Engine) Autofill(ctx context.Context, f Field) (Element, error) {
	if err := f.Mode.Validate(); err != nil {
		return nil, err
	}
	el, err := e.locator.Locate(ctx, f.Query, f.Options.Polling)
	if err != nil {
		return nil, err
	}
	if err := e.dispatcher.Gate(ctx, el, f.Mode); err != nil {
		return nil, err
	}
	written, err := e.injector.Inject(ctx, el, f.Value, f.Options)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("Field committed.", zap.Stringer("query", f.Query), zap.String("mode", string(f.Mode)))
	return written, nil
}

// AutofillSelector fills the first element matching a CSS selector.
func (e *Engine) AutofillSelector(ctx context.Context, selector, value string, mode Mode, opts ...Option) (Element, error) {
	return e.Autofill(ctx, Field{Query: Selector(selector), Value: value, Mode: mode, Options: NewOptions(opts...)})
}

// AutofillXPath fills the first element node matching an XPath expression.
func (e *Engine) AutofillXPath(ctx context.Context, xpath, value string, mode Mode, opts ...Option) (Element, error) {
	return e.Autofill(ctx, Field{Query: XPathQuery(xpath), Value: value, Mode: mode, Options: NewOptions(opts...)})
}

// WaitForSelector blocks until a CSS selector matches. Only the polling
// options are consulted.
func (e *Engine) WaitForSelector(ctx context.Context, selector string, opts ...Option) (Element, error) {
	return e.locator.Locate(ctx, Selector(selector), NewOptions(opts...).Polling)
}

// WaitForXPath blocks until an XPath expression matches an element.
func (e *Engine) WaitForXPath(ctx context.Context, xpath string, opts ...Option) (Element, error) {
	return e.locator.Locate(ctx, XPathQuery(xpath), NewOptions(opts...).Polling)
}

// WaitForTimeout sleeps for d without touching the DOM.
func (e *Engine) WaitForTimeout(ctx context.Context, d time.Duration) error {
	return WaitForTimeout(ctx, d)
}

// WaitForTimeout sleeps for d or until ctx ends.
func WaitForTimeout(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// FillAll runs every field's pipeline concurrently and waits for all of them.
// No ordering is imposed between fields. The first failure cancels the rest.
func (e *Engine) FillAll(ctx context.Context, fields ...Field) ([]Element, error) {
	out := make([]Element, len(fields))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range fields {
		g.Go(func() error {
			el, err := e.Autofill(gctx, f)
			if err != nil {
				return fmt.Errorf("field %s: %w", f.Query, err)
			}
			out[i] = el
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type raceResult struct {
	el    Element
	index int
	err   error
}

// Race starts every field and returns the first one to commit together with
// its index. The remaining pipelines are cancelled. If every field fails the
// first error is returned.
func (e *Engine) Race(ctx context.Context, fields ...Field) (Element, int, error) {
	if len(fields) == 0 {
		return nil, -1, fmt.Errorf("autofill: race needs at least one field")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan raceResult, len(fields))
	for i, f := range fields {
		go func() {
			el, err := e.Autofill(ctx, f)
			results <- raceResult{el: el, index: i, err: err}
		}()
	}

	var firstErr error
	for range fields {
		r := <-results
		if r.err == nil {
			return r.el, r.index, nil
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("field %s: %w", fields[r.index].Query, r.err)
		}
	}
	return nil, -1, firstErr
}
