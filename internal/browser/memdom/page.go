// internal/browser/memdom/page.go
package memdom

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/autofill"
)

var _ autofill.Page = (*Document)(nil)

// element converts an engine handle back to one of this document's elements.
func (d *Document) element(el autofill.Element) (*Element, error) {
	e, ok := el.(*Element)
	if !ok || e == nil || e.doc != d {
		return nil, ErrForeignElement
	}
	return e, nil
}

// Root returns the document node.
func (d *Document) Root() autofill.Element {
	return d.Document()
}

// Query evaluates q once under scope.
func (d *Document) Query(ctx context.Context, scope autofill.Element, q autofill.Query) (autofill.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := d.element(scope)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	var n *html.Node
	switch q.Kind {
	case autofill.CSS:
		n, err = queryCSS(s.node, q.Expr)
	case autofill.XPath:
		n, err = queryXPath(s.node, q.Expr)
	default:
		err = fmt.Errorf("memdom: unknown query kind %s", q.Kind)
	}
	d.mu.RUnlock()

	if err != nil || n == nil {
		// Return a typed nil interface, not a nil *Element.
		return nil, err
	}
	return d.wrap(n), nil
}

// Visible reports computed visibility and a non-empty bounding box.
func (d *Document) Visible(ctx context.Context, el autofill.Element) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e, err := d.element(el)
	if err != nil {
		return false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	if computedVisibilityLocked(e.node) == "hidden" {
		return false, nil
	}
	return !d.boundingRectLocked(e).IsZero(), nil
}

// Observe subscribes to mutations under scope until ctx ends.
func (d *Document) Observe(ctx context.Context, scope autofill.Element) (<-chan struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := d.element(scope)
	if err != nil {
		return nil, err
	}
	return d.observe(ctx, s.node), nil
}

// Frames ticks once per frame interval until ctx ends.
func (d *Document) Frames(ctx context.Context) (<-chan struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.frames(ctx), nil
}

// Describe snapshots tag, type, live value and options.
func (d *Document) Describe(ctx context.Context, el autofill.Element) (autofill.ElementInfo, error) {
	if err := ctx.Err(); err != nil {
		return autofill.ElementInfo{}, err
	}
	e, err := d.element(el)
	if err != nil {
		return autofill.ElementInfo{}, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	info := autofill.ElementInfo{
		Tag:   e.Tag(),
		Type:  strings.ToLower(attr(e.node, "type")),
		Value: d.valueLocked(e),
	}
	if info.Tag == "input" && (info.Type == "checkbox" || info.Type == "radio") {
		info.Checked = e.checkedLocked()
	}
	if info.Tag == "select" {
		for _, opt := range optionNodes(e.node) {
			info.Options = append(info.Options, autofill.OptionInfo{
				Element: d.wrap(opt),
				Value:   d.optionValueLocked(opt),
				Text:    strings.TrimSpace(textContent(opt)),
			})
		}
	}
	return info, nil
}

// Focus moves focus to el, blurring the previously focused element.
func (d *Document) Focus(ctx context.Context, el autofill.Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := d.element(el)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if !d.connectedLocked(e.node) {
		d.mu.Unlock()
		return ErrDetached
	}
	prev := d.active
	if prev == e.node {
		d.mu.Unlock()
		return nil
	}
	d.active = e.node
	d.mu.Unlock()

	if prev != nil {
		d.DispatchEvent(d.wrap(prev), Event{Type: "blur"})
	}
	d.DispatchEvent(e, Event{Type: "focus"})
	return nil
}

// Blur removes focus from el. It does nothing when el is not focused.
func (d *Document) Blur(ctx context.Context, el autofill.Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := d.element(el)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.active != e.node {
		d.mu.Unlock()
		return nil
	}
	d.active = nil
	d.mu.Unlock()

	d.DispatchEvent(e, Event{Type: "blur"})
	return nil
}

// Click runs the element's activation behaviour and dispatches click.
// Checkboxes toggle and radios check before listeners run, followed by
// input and change as a browser does.
func (d *Document) Click(ctx context.Context, el autofill.Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := d.element(el)
	if err != nil {
		return err
	}

	d.mu.Lock()
	toggled := false
	if e.Tag() == "input" {
		switch strings.ToLower(attr(e.node, "type")) {
		case "checkbox":
			checked := !e.checkedLocked()
			e.checked = &checked
			toggled = true
		case "radio":
			if !e.checkedLocked() {
				d.checkRadioLocked(e)
				toggled = true
			}
		}
	}
	d.mu.Unlock()

	d.DispatchEvent(e, Event{Type: "click", Bubbles: true})
	if toggled {
		d.DispatchEvent(e, Event{Type: "input", Bubbles: true})
		d.DispatchEvent(e, Event{Type: "change", Bubbles: true})
	}
	return nil
}

// checkRadioLocked checks e and unchecks the other radios sharing its name.
func (d *Document) checkRadioLocked(e *Element) {
	name := attr(e.node, "name")
	if name != "" {
		for _, n := range radioGroup(d.root, name) {
			off := false
			d.wrap(n).checked = &off
		}
	}
	on := true
	e.checked = &on
}

// SetValue assigns the value property. It fires no events and produces no
// mutation records.
func (d *Document) SetValue(ctx context.Context, el autofill.Element, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := d.element(el)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connectedLocked(e.node) {
		return ErrDetached
	}
	if e.Tag() == "select" {
		for _, opt := range optionNodes(e.node) {
			d.setSelectedLocked(d.wrap(opt), d.optionValueLocked(opt) == value)
		}
		return nil
	}
	e.value = &value
	return nil
}

// SelectOption makes option the only selected entry of control.
func (d *Document) SelectOption(ctx context.Context, control, option autofill.Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := d.element(control)
	if err != nil {
		return err
	}
	o, err := d.element(option)
	if err != nil {
		return err
	}
	d.mu.Lock()
	found := false
	for _, opt := range optionNodes(c.node) {
		if opt == o.node {
			found = true
		}
	}
	if found {
		for _, opt := range optionNodes(c.node) {
			d.setSelectedLocked(d.wrap(opt), opt == o.node)
		}
	}
	d.mu.Unlock()

	if !found {
		return fmt.Errorf("memdom: %s is not an option of %s", o, c)
	}
	return nil
}

func (d *Document) setSelectedLocked(e *Element, selected bool) {
	e.selected = &selected
}

// Dispatch fires a synthetic event.
func (d *Document) Dispatch(ctx context.Context, el autofill.Element, ev autofill.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := d.element(el)
	if err != nil {
		return err
	}
	d.DispatchEvent(e, Event{Type: ev.Type, Bubbles: ev.Bubbles})
	return nil
}

// Once blocks until el receives an event of eventType or ctx ends.
func (d *Document) Once(ctx context.Context, el autofill.Element, eventType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := d.element(el)
	if err != nil {
		return err
	}

	fired := make(chan struct{}, 1)
	remove := d.AddEventListener(e, eventType, func(Event) {
		select {
		case fired <- struct{}{}:
		default:
		}
	}, true)
	d.logger.Debug("One-shot listener attached.", zap.Stringer("element", e), zap.String("event", eventType))

	select {
	case <-fired:
		return nil
	case <-ctx.Done():
		remove()
		return ctx.Err()
	}
}
