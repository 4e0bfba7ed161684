// internal/autofill/types.go
package autofill

import (
	"fmt"
	"strings"
)

// Mode controls when a field's value is written once its element resolves.
type Mode string

const (
	// Fast writes as soon as the element is found.
	Fast Mode = "fast"
	// Click waits for the first click on the element.
	Click Mode = "click"
	// Hover waits for the first mouseover on the element.
	Hover Mode = "hover"
)

// ParseMode converts a case-insensitive mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if err := m.Validate(); err != nil {
		return "", err
	}
	return m, nil
}

// Validate rejects anything outside Fast, Click and Hover.
func (m Mode) Validate() error {
	switch m {
	case Fast, Click, Hover:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidMode, string(m))
}

// PollingOptions controls how the locator waits for an element.
type PollingOptions struct {
	// Parent scopes the query. Nil means the page root.
	Parent Element
	// Visible, when set, requires the element's visibility to equal *Visible
	// and switches waiting to the per-frame backend.
	Visible *bool
}

// TypeOptions controls text-entry writes.
type TypeOptions struct {
	// DispatchKeys wraps the value write in keydown/keyup events.
	DispatchKeys bool
}

// SelectOptions controls choice-control writes.
type SelectOptions struct {
	// ByText matches options on trimmed text content instead of value.
	ByText bool
}

// Options is the per-field option bag. The zero value polls from the root,
// ignores visibility, sends no keyboard events and selects by value.
type Options struct {
	Polling PollingOptions
	Type    TypeOptions
	Select  SelectOptions
}

// Option mutates an Options bag.
type Option func(*Options)

// WithParent scopes the query to parent.
func WithParent(parent Element) Option {
	return func(o *Options) { o.Polling.Parent = parent }
}

// WithVisible requires the resolved element's visibility to equal visible.
func WithVisible(visible bool) Option {
	return func(o *Options) { o.Polling.Visible = Bool(visible) }
}

// WithDispatchKeys enables keydown/keyup around text writes.
func WithDispatchKeys() Option {
	return func(o *Options) { o.Type.DispatchKeys = true }
}

// WithSelectByText matches choice options by text.
func WithSelectByText() Option {
	return func(o *Options) { o.Select.ByText = true }
}

// NewOptions applies opts to a zero Options.
func NewOptions(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Field describes one form field to fill. Fields are values; copy freely.
type Field struct {
	Query   Query
	Value   string
	Mode    Mode
	Options Options
}

// NewField validates mode and assembles a Field.
func NewField(q Query, value string, mode Mode, opts ...Option) (Field, error) {
	if err := mode.Validate(); err != nil {
		return Field{}, err
	}
	if q.Expr == "" {
		return Field{}, fmt.Errorf("autofill: empty %s query", q.Kind)
	}
	return Field{Query: q, Value: value, Mode: mode, Options: NewOptions(opts...)}, nil
}
