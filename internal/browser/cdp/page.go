// internal/browser/cdp/page.go
package cdp

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/autofill"
)

//go:embed autofill.js
var helperTemplate string

// BindingName is the runtime binding the page helper reports signals through.
const BindingName = "__noxSignal"

const rootRef = "document"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrForeignElement is returned for handles that were not produced by this Page.
var ErrForeignElement = errors.New("cdp: element belongs to another page")

// ScriptError is a JavaScript exception raised by the page helper, such as a
// malformed selector or a stale element reference.
type ScriptError struct {
	Method string
	Text   string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("cdp: %s: %s", e.Method, e.Text)
}

// Element is a handle to a node in the tab's current document. Handles are
// invalidated by navigation.
type Element struct {
	ref   string
	label string
}

func (e *Element) String() string { return e.label }

// Ref returns the helper's reference for the node.
func (e *Element) Ref() string { return e.ref }

type handle struct {
	Ref   string `json:"ref"`
	Label string `json:"label"`
}

type describeResult struct {
	Tag     string `json:"tag"`
	Type    string `json:"type"`
	Value   string `json:"value"`
	Checked bool   `json:"checked"`
	Options []struct {
		El    *handle `json:"el"`
		Value string  `json:"value"`
		Text  string  `json:"text"`
	} `json:"options"`
}

type signalMessage struct {
	Sub  string `json:"sub"`
	Kind string `json:"kind"`
}

type subscription struct {
	ch chan struct{}
	// limiter paces frame subscriptions; nil delivers every signal.
	limiter *rate.Limiter
}

// Page drives one Chrome tab through an injected helper script and
// implements autofill.Page.
type Page struct {
	ctx       context.Context
	logger    *zap.Logger
	frameRate float64
	root      *Element

	mu       sync.Mutex
	subs     map[string]*subscription
	elements map[string]*Element
}

var _ autofill.Page = (*Page)(nil)

// HelperScript returns the page helper with the signal binding filled in.
func HelperScript() string {
	return strings.ReplaceAll(helperTemplate, "__BINDING__", BindingName)
}

// NewPage attaches to the tab owned by tabCtx (a chromedp context). It
// installs the signal binding and the helper on the current and every future
// document. frameRate caps frame signals per second.
func NewPage(ctx context.Context, tabCtx context.Context, frameRate float64, logger *zap.Logger) (*Page, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Page{
		ctx:       tabCtx,
		logger:    logger.Named("cdp_page"),
		frameRate: frameRate,
		root:      &Element{ref: rootRef, label: "#document"},
		subs:      make(map[string]*subscription),
		elements:  make(map[string]*Element),
	}

	chromedp.ListenTarget(tabCtx, p.handleEvent)

	script := HelperScript()
	err := p.run(ctx,
		runtime.AddBinding(BindingName),
		chromedp.ActionFunc(func(c context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(c)
			return err
		}),
		chromedp.Evaluate(script, nil),
	)
	if err != nil {
		return nil, fmt.Errorf("cdp: install page helper: %w", err)
	}
	p.logger.Debug("Page helper installed.")
	return p, nil
}

// Navigate loads url in the tab. Open subscriptions are closed by the
// navigation and element handles become stale.
func (p *Page) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

// run executes actions on the tab, bounded by ctx.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// call invokes a helper method and decodes its result into res. A null
// result leaves res untouched and reports found=false.
func (p *Page) call(ctx context.Context, res interface{}, method string, args ...interface{}) (bool, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return false, fmt.Errorf("cdp: encode %s arguments: %w", method, err)
	}
	expr := fmt.Sprintf("window.__nox.%s(...%s)", method, encoded)

	var obj *runtime.RemoteObject
	err = p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var exc *runtime.ExceptionDetails
		var err error
		obj, exc, err = runtime.Evaluate(expr).WithReturnByValue(true).Do(c)
		if err != nil {
			return err
		}
		if exc != nil {
			return &ScriptError{Method: method, Text: exceptionText(exc)}
		}
		return nil
	}))
	if err != nil {
		return false, err
	}
	if obj == nil || obj.Type == runtime.TypeUndefined || obj.Subtype == runtime.SubtypeNull || len(obj.Value) == 0 {
		return false, nil
	}
	if res == nil {
		return true, nil
	}
	if err := json.Unmarshal(obj.Value, res); err != nil {
		return false, fmt.Errorf("cdp: decode %s result: %w", method, err)
	}
	return true, nil
}

func exceptionText(exc *runtime.ExceptionDetails) string {
	if exc.Exception != nil && exc.Exception.Description != "" {
		return exc.Exception.Description
	}
	return exc.Text
}

func (p *Page) element(el autofill.Element) (*Element, error) {
	e, ok := el.(*Element)
	if !ok || e == nil {
		return nil, fmt.Errorf("%w: %v", ErrForeignElement, el)
	}
	if e == p.root {
		return e, nil
	}
	p.mu.Lock()
	known := p.elements[e.ref] == e
	p.mu.Unlock()
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrForeignElement, e)
	}
	return e, nil
}

// intern returns the single Element for a helper ref.
func (p *Page) intern(h *handle) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.elements[h.Ref]; ok {
		return e
	}
	e := &Element{ref: h.Ref, label: h.Label}
	p.elements[h.Ref] = e
	return e
}

// -- Querier --

// Root returns the document node.
func (p *Page) Root() autofill.Element { return p.root }

// Query resolves q under scope in the page.
func (p *Page) Query(ctx context.Context, scope autofill.Element, q autofill.Query) (autofill.Element, error) {
	s, err := p.element(scope)
	if err != nil {
		return nil, err
	}
	var h handle
	found, err := p.call(ctx, &h, "query", s.ref, q.Expr, q.Kind == autofill.CSS)
	if err != nil || !found {
		return nil, err
	}
	return p.intern(&h), nil
}

// Visible evaluates computed visibility and the bounding client rect.
func (p *Page) Visible(ctx context.Context, el autofill.Element) (bool, error) {
	e, err := p.element(el)
	if err != nil {
		return false, err
	}
	var visible bool
	_, err = p.call(ctx, &visible, "visible", e.ref)
	return visible, err
}

// -- Observer --

// Observe installs a MutationObserver on scope for childList, subtree and
// attribute changes.
func (p *Page) Observe(ctx context.Context, scope autofill.Element) (<-chan struct{}, error) {
	s, err := p.element(scope)
	if err != nil {
		return nil, err
	}
	ch, _, err := p.subscribe(ctx, nil, "observe", s.ref)
	return ch, err
}

// Frames signals on requestAnimationFrame, paced to the configured frame rate.
func (p *Page) Frames(ctx context.Context) (<-chan struct{}, error) {
	var limiter *rate.Limiter
	if p.frameRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(p.frameRate), 1)
	}
	ch, _, err := p.subscribe(ctx, limiter, "frames")
	return ch, err
}

// subscribe registers a signal channel and starts the helper side. The
// channel is closed when ctx ends, the returned cancel runs, or the tab
// navigates away.
func (p *Page) subscribe(ctx context.Context, limiter *rate.Limiter, method string, args ...interface{}) (<-chan struct{}, func(), error) {
	id := uuid.NewString()
	sub := &subscription{ch: make(chan struct{}, 1), limiter: limiter}

	p.mu.Lock()
	p.subs[id] = sub
	p.mu.Unlock()

	if _, err := p.call(ctx, nil, method, append([]interface{}{id}, args...)...); err != nil {
		p.drop(id)
		return nil, nil, err
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.drop(id)
			p.release(id)
		})
	}
	stop := context.AfterFunc(ctx, cancel)
	return sub.ch, func() {
		stop()
		cancel()
	}, nil
}

// drop closes and forgets a subscription. Safe to call more than once.
func (p *Page) drop(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub, ok := p.subs[id]; ok {
		delete(p.subs, id)
		close(sub.ch)
	}
}

// release stops the helper side of a subscription. It runs after the
// caller's context has ended, so it is bounded by the tab instead.
func (p *Page) release(id string) {
	if _, err := p.call(context.Background(), nil, "release", id); err != nil {
		p.logger.Debug("Could not release subscription.", zap.String("sub", id), zap.Error(err))
	}
}

// handleEvent runs on chromedp's event goroutine and must not block.
func (p *Page) handleEvent(ev interface{}) {
	switch ev := ev.(type) {
	case *runtime.EventBindingCalled:
		if ev.Name != BindingName {
			return
		}
		var msg signalMessage
		if err := json.UnmarshalFromString(ev.Payload, &msg); err != nil {
			p.logger.Debug("Malformed signal payload.", zap.String("payload", ev.Payload), zap.Error(err))
			return
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		sub, ok := p.subs[msg.Sub]
		if !ok {
			return
		}
		if sub.limiter != nil && !sub.limiter.Allow() {
			return
		}
		select {
		case sub.ch <- struct{}{}:
		default:
		}
	case *page.EventFrameNavigated:
		if ev.Frame == nil || ev.Frame.ParentID != "" {
			return
		}
		p.reset()
	}
}

// reset closes every subscription and forgets every handle after a
// main-frame navigation.
func (p *Page) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, sub := range p.subs {
		delete(p.subs, id)
		close(sub.ch)
	}
	p.elements = make(map[string]*Element)
	p.logger.Debug("Main frame navigated, page state reset.")
}

// -- Writer --

// Describe reads tag, type, live value and select options.
func (p *Page) Describe(ctx context.Context, el autofill.Element) (autofill.ElementInfo, error) {
	e, err := p.element(el)
	if err != nil {
		return autofill.ElementInfo{}, err
	}
	var res describeResult
	if _, err := p.call(ctx, &res, "describe", e.ref); err != nil {
		return autofill.ElementInfo{}, err
	}
	info := autofill.ElementInfo{Tag: res.Tag, Type: res.Type, Value: res.Value, Checked: res.Checked}
	for _, opt := range res.Options {
		if opt.El == nil {
			continue
		}
		info.Options = append(info.Options, autofill.OptionInfo{
			Element: p.intern(opt.El),
			Value:   opt.Value,
			Text:    opt.Text,
		})
	}
	return info, nil
}

// Focus focuses el, firing focus even when the window lacks OS focus.
func (p *Page) Focus(ctx context.Context, el autofill.Element) error {
	return p.invoke(ctx, "focus", el)
}

// Blur removes focus from el if it holds it.
func (p *Page) Blur(ctx context.Context, el autofill.Element) error {
	return p.invoke(ctx, "blur", el)
}

// Click runs the element's activation behavior.
func (p *Page) Click(ctx context.Context, el autofill.Element) error {
	return p.invoke(ctx, "click", el)
}

// SetValue assigns through the native value setter so framework wrappers
// around the property see the write.
func (p *Page) SetValue(ctx context.Context, el autofill.Element, value string) error {
	return p.invoke(ctx, "setValue", el, value)
}

// SelectOption selects option within control.
func (p *Page) SelectOption(ctx context.Context, control, option autofill.Element) error {
	o, err := p.element(option)
	if err != nil {
		return err
	}
	return p.invoke(ctx, "select", control, o.ref)
}

// Dispatch fires a synthetic event of the matching DOM event class.
func (p *Page) Dispatch(ctx context.Context, el autofill.Element, ev autofill.Event) error {
	return p.invoke(ctx, "dispatch", el, ev.Type, ev.Bubbles, ev.Cancelable)
}

func (p *Page) invoke(ctx context.Context, method string, el autofill.Element, args ...interface{}) error {
	e, err := p.element(el)
	if err != nil {
		return err
	}
	_, err = p.call(ctx, nil, method, append([]interface{}{e.ref}, args...)...)
	return err
}

// -- Listener --

// Once waits for a single eventType event on el.
func (p *Page) Once(ctx context.Context, el autofill.Element, eventType string) error {
	e, err := p.element(el)
	if err != nil {
		return err
	}
	ch, cancel, err := p.subscribe(ctx, nil, "once", e.ref, eventType)
	if err != nil {
		return err
	}
	defer cancel()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case _, ok := <-ch:
		if !ok {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return autofill.ErrWatchClosed
		}
		return nil
	}
}
