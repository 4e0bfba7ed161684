// internal/autofill/page.go
package autofill

import (
	"context"
	"fmt"
)

// Element is an opaque handle to an element owned by a Page host. Handles are
// only meaningful to the Page that produced them.
type Element interface {
	fmt.Stringer
}

// QueryKind distinguishes CSS selectors from XPath expressions.
type QueryKind int

const (
	// CSS queries use querySelector semantics: first match in document order.
	CSS QueryKind = iota
	// XPath queries use first-ordered-node semantics, skipping non-element nodes.
	XPath
)

func (k QueryKind) String() string {
	switch k {
	case CSS:
		return "css"
	case XPath:
		return "xpath"
	default:
		return fmt.Sprintf("QueryKind(%d)", int(k))
	}
}

// Query is a selector or XPath expression to resolve against a subtree.
type Query struct {
	Expr string
	Kind QueryKind
}

// Selector builds a CSS query.
func Selector(expr string) Query { return Query{Expr: expr, Kind: CSS} }

// XPathQuery builds an XPath query.
func XPathQuery(expr string) Query { return Query{Expr: expr, Kind: XPath} }

func (q Query) String() string {
	return fmt.Sprintf("%s(%q)", q.Kind, q.Expr)
}

// Event describes a synthetic DOM event to dispatch on an element.
type Event struct {
	Type       string
	Bubbles    bool
	Cancelable bool
}

// OptionInfo describes one entry of a choice control.
type OptionInfo struct {
	Element Element
	Value   string
	// Text is the option's text content with surrounding whitespace trimmed.
	Text string
}

// ElementInfo is a snapshot of the element properties the injector needs to
// pick a capability and decide whether a write is a no-op.
type ElementInfo struct {
	// Tag is the lower-cased tag name.
	Tag string
	// Type is the lower-cased type attribute, empty when absent.
	Type string
	// Value is the live value property (not the attribute).
	Value string
	// Checked is the live checkedness of checkboxes and radios.
	Checked bool
	Options []OptionInfo
}

// Querier resolves queries and answers visibility questions.
type Querier interface {
	// Root returns the element that scopes queries when no parent is given.
	Root() Element
	// Query evaluates q once against scope. It returns (nil, nil) when nothing
	// matches and an error when the expression itself is malformed.
	Query(ctx context.Context, scope Element, q Query) (Element, error)
	// Visible reports whether el's computed visibility is not hidden and its
	// bounding rectangle has any nonzero top, bottom, width or height.
	Visible(ctx context.Context, el Element) (bool, error)
}

// Observer provides the two suspension signals a Watcher can wait on. Both
// channels deliver at most one pending signal and are closed when ctx ends.
type Observer interface {
	// Observe signals once per batch of childList, subtree or attribute
	// mutations under scope.
	Observe(ctx context.Context, scope Element) (<-chan struct{}, error)
	// Frames signals once per animation frame.
	Frames(ctx context.Context) (<-chan struct{}, error)
}

// Writer performs the low-level element writes the injector is built from.
type Writer interface {
	Describe(ctx context.Context, el Element) (ElementInfo, error)
	Focus(ctx context.Context, el Element) error
	Blur(ctx context.Context, el Element) error
	Click(ctx context.Context, el Element) error
	// SetValue assigns the value property directly, without firing events.
	SetValue(ctx context.Context, el Element, value string) error
	// SelectOption marks option as the selected entry of control.
	SelectOption(ctx context.Context, control, option Element) error
	Dispatch(ctx context.Context, el Element, ev Event) error
}

// Listener registers one-shot event listeners.
type Listener interface {
	// Once blocks until el receives one event of the given type. The listener
	// is removed after it fires or when ctx ends.
	Once(ctx context.Context, el Element, eventType string) error
}

// Page is the full capability set a DOM host provides to the engine.
type Page interface {
	Querier
	Observer
	Writer
	Listener
}
