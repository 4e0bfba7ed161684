// internal/autofill/watcher.go
package autofill

import (
	"context"
)

// CheckFunc evaluates a wait predicate once. It returns the matched element
// and true when satisfied. An error ends the wait.
type CheckFunc func(ctx context.Context) (Element, bool, error)

// Watcher suspends until a predicate holds. A Watcher runs at most one check
// at a time; separate Watchers never share subscriptions.
type Watcher interface {
	Wait(ctx context.Context, check CheckFunc) (Element, error)
}

// NewWatcher picks the suspension backend for opts: the per-frame backend
// when a visibility requirement is set (layout changes do not produce
// mutation records), the mutation backend otherwise.
func NewWatcher(obs Observer, scope Element, opts PollingOptions) Watcher {
	if opts.Visible != nil {
		return &FrameWatcher{obs: obs}
	}
	return &MutationWatcher{obs: obs, scope: scope}
}

// MutationWatcher re-checks after every mutation batch under its scope.
type MutationWatcher struct {
	obs   Observer
	scope Element
}

// NewMutationWatcher watches scope for childList, subtree and attribute changes.
func NewMutationWatcher(obs Observer, scope Element) *MutationWatcher {
	return &MutationWatcher{obs: obs, scope: scope}
}

func (w *MutationWatcher) Wait(ctx context.Context, check CheckFunc) (Element, error) {
	// Cancelling subCtx disconnects the host observer on every return path.
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signals, err := w.obs.Observe(subCtx, w.scope)
	if err != nil {
		return nil, err
	}
	return waitOn(subCtx, signals, check)
}

// FrameWatcher re-checks once per animation frame.
type FrameWatcher struct {
	obs Observer
}

// NewFrameWatcher polls on the host's frame clock.
func NewFrameWatcher(obs Observer) *FrameWatcher {
	return &FrameWatcher{obs: obs}
}

func (w *FrameWatcher) Wait(ctx context.Context, check CheckFunc) (Element, error) {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames, err := w.obs.Frames(subCtx)
	if err != nil {
		return nil, err
	}
	return waitOn(subCtx, frames, check)
}

// waitOn runs check once right after subscribing, which covers changes made
// between the caller's first evaluation and the subscription, then once per
// signal.
func waitOn(ctx context.Context, signals <-chan struct{}, check CheckFunc) (Element, error) {
	if el, ok, err := check(ctx); err != nil || ok {
		return el, err
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case _, open := <-signals:
			if !open {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return nil, ErrWatchClosed
			}
			el, ok, err := check(ctx)
			if err != nil {
				return nil, err
			}
			if ok {
				return el, nil
			}
		}
	}
}
