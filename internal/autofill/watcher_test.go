// internal/autofill/watcher_test.go
package autofill_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/autofill"
)

type label string

func (l label) String() string { return string(l) }

// chanObserver hands out caller-controlled signal channels.
type chanObserver struct {
	mutations chan struct{}
	frames    chan struct{}
	scope     autofill.Element
	err       error
}

func (o *chanObserver) Observe(ctx context.Context, scope autofill.Element) (<-chan struct{}, error) {
	o.scope = scope
	return o.mutations, o.err
}

func (o *chanObserver) Frames(ctx context.Context) (<-chan struct{}, error) {
	return o.frames, o.err
}

func TestNewWatcher_SelectsBackend(t *testing.T) {
	obs := &chanObserver{}
	_, isMutation := autofill.NewWatcher(obs, label("root"), autofill.PollingOptions{}).(*autofill.MutationWatcher)
	assert.True(t, isMutation)

	_, isFrame := autofill.NewWatcher(obs, label("root"), autofill.PollingOptions{Visible: autofill.Bool(false)}).(*autofill.FrameWatcher)
	assert.True(t, isFrame)
}

func TestWatcher_ChecksOncePerSignal(t *testing.T) {
	obs := &chanObserver{mutations: make(chan struct{}, 1)}
	w := autofill.NewMutationWatcher(obs, label("form"))

	checks := 0
	check := func(ctx context.Context) (autofill.Element, bool, error) {
		checks++
		if checks == 3 {
			return label("match"), true, nil
		}
		// Each miss queues the next signal.
		obs.mutations <- struct{}{}
		return nil, false, nil
	}

	el, err := w.Wait(context.Background(), check)
	require.NoError(t, err)
	assert.Equal(t, label("match"), el)
	assert.Equal(t, 3, checks, "one check after subscribing, then one per signal")
	assert.Equal(t, label("form"), obs.scope)
}

func TestWatcher_ClosedSignals(t *testing.T) {
	frames := make(chan struct{})
	close(frames)
	w := autofill.NewFrameWatcher(&chanObserver{frames: frames})

	_, err := w.Wait(context.Background(), func(context.Context) (autofill.Element, bool, error) {
		return nil, false, nil
	})
	assert.ErrorIs(t, err, autofill.ErrWatchClosed)
}

func TestWatcher_CheckErrorEndsWait(t *testing.T) {
	boom := errors.New("boom")
	w := autofill.NewMutationWatcher(&chanObserver{mutations: make(chan struct{})}, label("form"))

	_, err := w.Wait(context.Background(), func(context.Context) (autofill.Element, bool, error) {
		return nil, false, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestWatcher_SubscribeError(t *testing.T) {
	boom := errors.New("target closed")
	w := autofill.NewFrameWatcher(&chanObserver{err: boom})
	_, err := w.Wait(context.Background(), func(context.Context) (autofill.Element, bool, error) {
		t.Fatal("check must not run without a subscription")
		return nil, false, nil
	})
	assert.ErrorIs(t, err, boom)
}
