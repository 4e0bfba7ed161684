// internal/autofill/locator.go
package autofill

import (
	"context"

	"go.uber.org/zap"
)

// Locator resolves a query to a single element, suspending until one exists.
//
// A query that never matches blocks until ctx ends. There is no built-in
// timeout; callers that need a bound pass a context with a deadline.
type Locator struct {
	page   Page
	logger *zap.Logger
}

// NewLocator binds a locator to page.
func NewLocator(page Page, logger *zap.Logger) *Locator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{page: page, logger: logger.Named("locator")}
}

// Locate evaluates q once and returns at once on a match that meets the
// visibility requirement, without attaching any observer. Otherwise it waits
// on a Watcher chosen by opts.
func (l *Locator) Locate(ctx context.Context, q Query, opts PollingOptions) (Element, error) {
	scope := opts.Parent
	if scope == nil {
		scope = l.page.Root()
	}
	check := l.predicate(q, scope, opts.Visible)

	el, ok, err := check(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return el, nil
	}

	l.logger.Debug("Element not ready, suspending.",
		zap.Stringer("query", q),
		zap.Bool("visibility_gated", opts.Visible != nil))
	return NewWatcher(l.page, scope, opts).Wait(ctx, check)
}

// predicate builds the match-and-visibility check shared by the immediate
// evaluation and every watcher wake-up.
func (l *Locator) predicate(q Query, scope Element, visible *bool) CheckFunc {
	return func(ctx context.Context) (Element, bool, error) {
		el, err := l.page.Query(ctx, scope, q)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			return nil, false, &QueryError{Query: q, Err: err}
		}
		if el == nil {
			return nil, false, nil
		}
		if visible == nil {
			return el, true, nil
		}
		vis, err := l.page.Visible(ctx, el)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			// The element can be detached between query and layout read; the
			// next signal re-queries.
			l.logger.Debug("Visibility check failed.", zap.Stringer("query", q), zap.Error(err))
			return nil, false, nil
		}
		return el, vis == *visible, nil
	}
}
