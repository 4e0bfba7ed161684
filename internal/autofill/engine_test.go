// internal/autofill/engine_test.go
package autofill_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/autofill"
	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/browser/memdom"
)

func TestLocate_ImmediateMatchAttachesNothing(t *testing.T) {
	ctx := testContext(t)
	doc := newDoc(t, `<input id="email">`)
	spy := &spyPage{Page: doc}
	engine := newEngine(t, spy)

	el, err := engine.WaitForSelector(ctx, "#email")
	require.NoError(t, err)
	assert.Same(t, mustQuery(t, doc, "#email"), el)

	el, err = engine.WaitForXPath(ctx, `//input[@id="email"]`, autofill.WithVisible(true))
	require.NoError(t, err)
	assert.Same(t, mustQuery(t, doc, "#email"), el)

	assert.Zero(t, spy.observes.Load(), "no mutation observer for an immediate match")
	assert.Zero(t, spy.frames.Load(), "no frame loop for an immediate match")
}

func TestLocate_DeferredUntilMutation(t *testing.T) {
	ctx := testContext(t)
	doc := newDoc(t, `<form id="checkout"></form>`)
	spy := &spyPage{Page: doc}
	engine := newEngine(t, spy)

	pending := async(func() (autofill.Element, error) {
		return engine.WaitForSelector(ctx, "#address")
	})
	require.Eventually(t, func() bool { return doc.ObserverCount() == 1 }, testTimeout, time.Millisecond)
	assertPending(t, pending)

	// A mutation that does not make the query match keeps it suspended.
	_, err := doc.AppendHTML(mustQuery(t, doc, "#checkout"), `<input id="city">`)
	require.NoError(t, err)
	assertPending(t, pending)

	added, err := doc.AppendHTML(mustQuery(t, doc, "#checkout"), `<input id="address">`)
	require.NoError(t, err)

	r := await(t, pending)
	require.NoError(t, r.err)
	assert.Same(t, added[0], r.el)
	assert.Equal(t, int32(1), spy.observes.Load())
	assert.Eventually(t, func() bool { return doc.ObserverCount() == 0 }, testTimeout, time.Millisecond, "observer detached after resolution")
}

func TestLocate_AttributeMutationSatisfiesQuery(t *testing.T) {
	ctx := testContext(t)
	doc := newDoc(t, `<input id="card" data-state="loading">`)
	engine := newEngine(t, doc)

	pending := async(func() (autofill.Element, error) {
		return engine.WaitForSelector(ctx, `input[data-state="ready"]`)
	})
	require.Eventually(t, func() bool { return doc.ObserverCount() == 1 }, testTimeout, time.Millisecond)

	require.NoError(t, doc.SetAttribute(mustQuery(t, doc, "#card"), "data-state", "ready"))
	r := await(t, pending)
	require.NoError(t, r.err)
	assert.Same(t, mustQuery(t, doc, "#card"), r.el)
}

func TestLocate_ParentScope(t *testing.T) {
	ctx := testContext(t)
	doc := newDoc(t, `<div id="billing"></div><div id="shipping"></div>`)
	engine := newEngine(t, doc)
	shipping := mustQuery(t, doc, "#shipping")

	pending := async(func() (autofill.Element, error) {
		return engine.WaitForSelector(ctx, "input", autofill.WithParent(shipping))
	})
	require.Eventually(t, func() bool { return doc.ObserverCount() == 1 }, testTimeout, time.Millisecond)

	_, err := doc.AppendHTML(mustQuery(t, doc, "#billing"), `<input id="billing-zip">`)
	require.NoError(t, err)
	assertPending(t, pending)

	added, err := doc.AppendHTML(shipping, `<input id="shipping-zip">`)
	require.NoError(t, err)
	r := await(t, pending)
	require.NoError(t, r.err)
	assert.Same(t, added[0], r.el)
}

func TestLocate_VisibilityUsesFrames(t *testing.T) {
	ctx := testContext(t)
	doc := newDoc(t, `<input id="otp" style="display:none">`)
	spy := &spyPage{Page: doc}
	engine := newEngine(t, spy)
	otp := mustQuery(t, doc, "#otp")

	t.Run("waits for the element to become visible", func(t *testing.T) {
		pending := async(func() (autofill.Element, error) {
			return engine.WaitForSelector(ctx, "#otp", autofill.WithVisible(true))
		})
		assertPending(t, pending)
		assert.Zero(t, spy.observes.Load(), "visibility waits do not use mutation records")

		// A layout-only change with no mutation record.
		require.NoError(t, doc.RemoveAttribute(otp, "style"))
		r := await(t, pending)
		require.NoError(t, r.err)
		assert.Same(t, otp, r.el)
		assert.Equal(t, int32(1), spy.frames.Load())
	})

	t.Run("waits for the element to become hidden", func(t *testing.T) {
		pending := async(func() (autofill.Element, error) {
			return engine.WaitForSelector(ctx, "#otp", autofill.WithVisible(false))
		})
		assertPending(t, pending)

		require.NoError(t, doc.SetBoundingRect(otp, memdom.Rect{}))
		r := await(t, pending)
		require.NoError(t, r.err)
		assert.Same(t, otp, r.el)
	})
}

func TestLocate_MalformedQueryFails(t *testing.T) {
	ctx := testContext(t)
	engine := newEngine(t, newDoc(t, `<input>`))

	for _, q := range []autofill.Query{autofill.Selector("input[["), autofill.XPathQuery("//input[")} {
		_, err := engine.Autofill(ctx, autofill.Field{Query: q, Value: "x", Mode: autofill.Fast})
		var qerr *autofill.QueryError
		require.ErrorAs(t, err, &qerr, q.String())
		assert.Equal(t, q, qerr.Query)
	}
}

func TestLocate_CancellationDetaches(t *testing.T) {
	doc := newDoc(t, ``)
	engine := newEngine(t, doc)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := engine.AutofillSelector(ctx, "#never", "x", autofill.Fast)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel2()
	_, err = engine.WaitForSelector(ctx2, "#never", autofill.WithVisible(true))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Eventually(t, func() bool { return doc.ObserverCount() == 0 }, testTimeout, time.Millisecond)
}

func TestConcurrentWaitsAreIndependent(t *testing.T) {
	ctx := testContext(t)
	doc := newDoc(t, ``)
	engine := newEngine(t, doc)

	first := async(func() (autofill.Element, error) { return engine.WaitForSelector(ctx, "#promo") })
	second := async(func() (autofill.Element, error) { return engine.WaitForSelector(ctx, "#promo") })
	require.Eventually(t, func() bool { return doc.ObserverCount() == 2 }, testTimeout, time.Millisecond,
		"each wait owns its own observer")

	added, err := doc.AppendHTML(doc.Body(), `<input id="promo">`)
	require.NoError(t, err)

	a, b := await(t, first), await(t, second)
	require.NoError(t, a.err)
	require.NoError(t, b.err)
	assert.Same(t, added[0], a.el)
	assert.Same(t, a.el, b.el)
}

func TestModeGating(t *testing.T) {
	cases := []struct {
		mode    autofill.Mode
		trigger func(doc *memdom.Document, el *memdom.Element) error
		event   string
	}{
		{
			mode:  autofill.Click,
			event: "click",
			trigger: func(doc *memdom.Document, el *memdom.Element) error {
				return doc.Click(context.Background(), el)
			},
		},
		{
			mode:  autofill.Hover,
			event: "mouseover",
			trigger: func(doc *memdom.Document, el *memdom.Element) error {
				return doc.Dispatch(context.Background(), el, autofill.Event{Type: "mouseover", Bubbles: true})
			},
		},
	}
	for _, tc := range cases {
		t.Run(string(tc.mode), func(t *testing.T) {
			ctx := testContext(t)
			doc := newDoc(t, `<input id="field">`)
			engine := newEngine(t, doc)
			field := mustQuery(t, doc, "#field")

			var inputs atomic.Int32
			defer doc.AddEventListener(field, "input", func(memdom.Event) { inputs.Add(1) }, false)()

			pending := async(func() (autofill.Element, error) {
				return engine.AutofillSelector(ctx, "#field", "42", tc.mode)
			})
			require.Eventually(t, func() bool { return doc.ListenerCount(field, tc.event) == 1 }, testTimeout, time.Millisecond)

			// 1. Nothing is written before the trigger.
			assertPending(t, pending)
			assert.Equal(t, "", field.Value())

			// 2. The first trigger releases exactly one write.
			require.NoError(t, tc.trigger(doc, field))
			r := await(t, pending)
			require.NoError(t, r.err)
			assert.Same(t, field, r.el)
			assert.Equal(t, "42", field.Value())
			assert.Equal(t, int32(1), inputs.Load())
			assert.Zero(t, doc.ListenerCount(field, tc.event), "one-shot listener removed")

			// 3. Later triggers are ignored.
			require.NoError(t, doc.SetValue(ctx, field, ""))
			require.NoError(t, tc.trigger(doc, field))
			assert.Equal(t, "", field.Value())
			assert.Equal(t, int32(1), inputs.Load())
		})
	}
}

func TestModeGating_CancelRemovesListener(t *testing.T) {
	doc := newDoc(t, `<input id="field">`)
	engine := newEngine(t, doc)
	field := mustQuery(t, doc, "#field")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := engine.AutofillSelector(ctx, "#field", "42", autofill.Hover)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, doc.ListenerCount(field, "mouseover"))
	assert.Equal(t, "", field.Value())
}

func TestAutofill_EndToEnd(t *testing.T) {
	ctx := testContext(t)
	doc := newDoc(t, `<form id="pay"></form>`)
	engine := newEngine(t, doc)

	pending := async(func() (autofill.Element, error) {
		return engine.AutofillSelector(ctx, "#cc", "4111111111111111", autofill.Fast)
	})
	require.Eventually(t, func() bool { return doc.ObserverCount() == 1 }, testTimeout, time.Millisecond)

	_, err := doc.AppendHTML(mustQuery(t, doc, "#pay"), `<input id="cc" value="">`)
	require.NoError(t, err)

	r := await(t, pending)
	require.NoError(t, r.err)
	assert.Equal(t, "4111111111111111", mustQuery(t, doc, "#cc").Value())
}

func TestAutofill_InvalidMode(t *testing.T) {
	engine := newEngine(t, newDoc(t, `<input id="a">`))
	_, err := engine.AutofillSelector(context.Background(), "#a", "x", autofill.Mode("later"))
	assert.ErrorIs(t, err, autofill.ErrInvalidMode)
}

func TestFillAll(t *testing.T) {
	ctx := testContext(t)
	doc := newDoc(t, `<form>
		<input id="first">
		<select id="country"><option value="US">United States</option><option value="CA">Canada</option></select>
	</form>`)
	engine := newEngine(t, doc)

	fields := []autofill.Field{
		{Query: autofill.Selector("#first"), Value: "Grace", Mode: autofill.Fast},
		{Query: autofill.XPathQuery(`//select[@id="country"]`), Value: "Canada", Mode: autofill.Fast,
			Options: autofill.NewOptions(autofill.WithSelectByText())},
		{Query: autofill.Selector("#last"), Value: "Hopper", Mode: autofill.Fast},
	}

	pending := make(chan error, 1)
	var got []autofill.Element
	go func() {
		var err error
		got, err = engine.FillAll(ctx, fields...)
		pending <- err
	}()

	// The late field holds the batch open.
	require.Eventually(t, func() bool { return doc.ObserverCount() == 1 }, testTimeout, time.Millisecond)
	_, err := doc.AppendHTML(mustQuery(t, doc, "form"), `<input id="last">`)
	require.NoError(t, err)
	require.NoError(t, <-pending)

	values := []string{
		got[0].(*memdom.Element).Value(),
		got[1].(*memdom.Element).Value(),
		got[2].(*memdom.Element).Value(),
	}
	if diff := cmp.Diff([]string{"Grace", "CA", "Hopper"}, values); diff != "" {
		t.Errorf("filled values mismatch (-want +got):\n%s", diff)
	}
}

func TestFillAll_FirstErrorCancelsRest(t *testing.T) {
	ctx := testContext(t)
	doc := newDoc(t, `<input id="a">`)
	engine := newEngine(t, doc)

	_, err := engine.FillAll(ctx,
		autofill.Field{Query: autofill.Selector("#never"), Value: "x", Mode: autofill.Fast},
		autofill.Field{Query: autofill.Selector("a[["), Value: "x", Mode: autofill.Fast},
	)
	var qerr *autofill.QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Eventually(t, func() bool { return doc.ObserverCount() == 0 }, testTimeout, time.Millisecond)
}

func TestRace(t *testing.T) {
	t.Run("first committed field wins", func(t *testing.T) {
		ctx := testContext(t)
		doc := newDoc(t, `<input id="cvv-new">`)
		engine := newEngine(t, doc)

		el, idx, err := engine.Race(ctx,
			autofill.Field{Query: autofill.Selector("#cvv-legacy"), Value: "123", Mode: autofill.Fast},
			autofill.Field{Query: autofill.Selector("#cvv-new"), Value: "123", Mode: autofill.Fast},
		)
		require.NoError(t, err)
		assert.Equal(t, 1, idx)
		assert.Equal(t, "123", el.(*memdom.Element).Value())
		assert.Eventually(t, func() bool { return doc.ObserverCount() == 0 }, testTimeout, time.Millisecond, "loser cancelled")
	})

	t.Run("a failure does not end the race early", func(t *testing.T) {
		ctx := testContext(t)
		doc := newDoc(t, ``)
		engine := newEngine(t, doc)

		pending := make(chan int, 1)
		go func() {
			_, idx, _ := engine.Race(ctx,
				autofill.Field{Query: autofill.Selector("b[["), Value: "x", Mode: autofill.Fast},
				autofill.Field{Query: autofill.Selector("#late"), Value: "x", Mode: autofill.Fast},
			)
			pending <- idx
		}()
		require.Eventually(t, func() bool { return doc.ObserverCount() == 1 }, testTimeout, time.Millisecond)
		_, err := doc.AppendHTML(doc.Body(), `<input id="late">`)
		require.NoError(t, err)
		assert.Equal(t, 1, <-pending)
	})

	t.Run("all failures return an error", func(t *testing.T) {
		engine := newEngine(t, newDoc(t, ``))
		_, idx, err := engine.Race(context.Background(),
			autofill.Field{Query: autofill.Selector("a[["), Value: "x", Mode: autofill.Fast},
			autofill.Field{Query: autofill.XPathQuery("//["), Value: "x", Mode: autofill.Fast},
		)
		assert.Error(t, err)
		assert.Equal(t, -1, idx)
	})

	t.Run("empty race", func(t *testing.T) {
		_, _, err := newEngine(t, newDoc(t, ``)).Race(context.Background())
		assert.Error(t, err)
	})
}

func TestWaitForTimeout(t *testing.T) {
	start := time.Now()
	require.NoError(t, autofill.WaitForTimeout(context.Background(), 10*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := newEngine(t, newDoc(t, ``)).WaitForTimeout(ctx, time.Hour)
	assert.True(t, errors.Is(err, context.Canceled))
}
