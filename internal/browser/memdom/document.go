// internal/browser/memdom/document.go
//
// Package memdom is an in-memory DOM host for the autofill engine. It holds a
// golang.org/x/net/html tree plus the live state a browser keeps outside the
// markup (value properties, option selection, focus, event listeners), and
// reports mutations and animation frames the way a page would.
package memdom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// DefaultFrameInterval approximates a 60Hz display.
const DefaultFrameInterval = 16 * time.Millisecond

var (
	// ErrForeignElement is returned when an element handle belongs to another document.
	ErrForeignElement = errors.New("memdom: element belongs to a different document")
	// ErrDetached is returned for writes to an element that is no longer in the tree.
	ErrDetached = errors.New("memdom: element is detached from the document")
)

// Document is a mutable HTML document safe for concurrent use.
type Document struct {
	mu   sync.RWMutex
	root *html.Node

	// elements caches one wrapper per node so handles compare equal. It has
	// its own lock because wrapping happens under both read and write locks.
	elemMu   sync.Mutex
	elements map[*html.Node]*Element
	// listeners are keyed by node, then event type.
	listeners map[*html.Node]map[string][]*listener
	observers map[uint64]*observer
	nextID    uint64
	active    *html.Node

	frameInterval time.Duration
	logger        *zap.Logger
}

// Option configures a Document.
type Option func(*Document)

// WithFrameInterval sets the animation-frame period used by Frames.
func WithFrameInterval(d time.Duration) Option {
	return func(doc *Document) {
		if d > 0 {
			doc.frameInterval = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(doc *Document) {
		if logger != nil {
			doc.logger = logger
		}
	}
}

// Parse reads an HTML document.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("memdom: parse document: %w", err)
	}
	doc := &Document{
		root:          root,
		elements:      make(map[*html.Node]*Element),
		listeners:     make(map[*html.Node]map[string][]*listener),
		observers:     make(map[uint64]*observer),
		frameInterval: DefaultFrameInterval,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(doc)
	}
	doc.logger = doc.logger.Named("memdom")
	return doc, nil
}

// ParseString is Parse over a string.
func ParseString(s string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(s), opts...)
}

// Document returns the handle for the document node itself.
func (d *Document) Document() *Element {
	return d.wrap(d.root)
}

// Body returns the <body> element, or nil.
func (d *Document) Body() *Element {
	el, _ := d.QuerySelector("body")
	return el
}

// QuerySelector returns the first element matching a CSS selector.
func (d *Document) QuerySelector(selector string) (*Element, error) {
	d.mu.RLock()
	n, err := queryCSS(d.root, selector)
	d.mu.RUnlock()
	if err != nil || n == nil {
		return nil, err
	}
	return d.wrap(n), nil
}

// QueryXPath returns the first element node matching an XPath expression.
func (d *Document) QueryXPath(expr string) (*Element, error) {
	d.mu.RLock()
	n, err := queryXPath(d.root, expr)
	d.mu.RUnlock()
	if err != nil || n == nil {
		return nil, err
	}
	return d.wrap(n), nil
}

// CreateElement returns a new detached element.
func (d *Document) CreateElement(tag string) *Element {
	n := &html.Node{Type: html.ElementNode, Data: strings.ToLower(tag)}
	return d.wrap(n)
}

// Render serializes the current tree. Live value properties are not reflected.
func (d *Document) Render(w io.Writer) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return html.Render(w, d.root)
}

// ObserverCount reports the number of live mutation subscriptions.
func (d *Document) ObserverCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.observers)
}

// ActiveElement returns the focused element, or nil.
func (d *Document) ActiveElement() *Element {
	d.mu.RLock()
	n := d.active
	d.mu.RUnlock()
	if n == nil {
		return nil
	}
	return d.wrap(n)
}

func (d *Document) wrap(n *html.Node) *Element {
	if n == nil {
		return nil
	}
	d.elemMu.Lock()
	defer d.elemMu.Unlock()
	if el, ok := d.elements[n]; ok {
		return el
	}
	el := &Element{doc: d, node: n}
	d.elements[n] = el
	return el
}

// connectedLocked reports whether n is in the document tree.
func (d *Document) connectedLocked(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

// -- Mutation observation --

type observer struct {
	scope *html.Node
	ch    chan struct{}
}

// observe registers a coalescing subscription for mutations under scope.
func (d *Document) observe(ctx context.Context, scope *html.Node) <-chan struct{} {
	ch := make(chan struct{}, 1)

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.observers[id] = &observer{scope: scope, ch: ch}
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.mu.Lock()
		delete(d.observers, id)
		// Closed under the lock so notifyLocked never sends on a closed channel.
		close(ch)
		d.mu.Unlock()
	}()
	return ch
}

// notifyLocked signals every observer whose scope contains target.
// A pending signal absorbs later ones until the watcher drains it, which is
// how individual records batch.
func (d *Document) notifyLocked(target *html.Node) {
	for _, obs := range d.observers {
		if !isInclusiveAncestor(obs.scope, target) {
			continue
		}
		select {
		case obs.ch <- struct{}{}:
		default:
		}
	}
}

func isInclusiveAncestor(ancestor, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == ancestor {
			return true
		}
	}
	return false
}

// frames ticks at the document's frame interval until ctx ends.
func (d *Document) frames(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(d.frameInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()
	return ch
}
