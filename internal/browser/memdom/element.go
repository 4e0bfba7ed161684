// internal/browser/memdom/element.go
package memdom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Element is a stable handle to a node of a Document. The same node always
// yields the same *Element.
type Element struct {
	doc  *Document
	node *html.Node

	// Live properties. A nil pointer means "not yet diverged from markup".
	value    *string
	selected *bool
	checked  *bool
	rect     *Rect
}

// Rect is a layout box in CSS pixels.
type Rect struct {
	Top, Left, Width, Height float64
}

// Bottom is Top plus Height.
func (r Rect) Bottom() float64 { return r.Top + r.Height }

// IsZero reports whether every edge the visibility test reads is zero.
func (r Rect) IsZero() bool {
	return r.Top == 0 && r.Bottom() == 0 && r.Width == 0 && r.Height == 0
}

// String renders a short label such as input#email[name="email"]. It takes
// the document read lock.
func (e *Element) String() string {
	if e == nil || e.node == nil {
		return "<nil>"
	}
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	switch e.node.Type {
	case html.DocumentNode:
		return "#document"
	case html.TextNode:
		return "#text"
	}
	var b strings.Builder
	b.WriteString(e.node.Data)
	if id := attr(e.node, "id"); id != "" {
		b.WriteString("#" + id)
	}
	if name := attr(e.node, "name"); name != "" {
		fmt.Fprintf(&b, "[name=%q]", name)
	}
	return b.String()
}

// Node exposes the underlying html node. Callers must not mutate it directly;
// use the Document mutation methods so observers are notified.
func (e *Element) Node() *html.Node { return e.node }

// Tag returns the lower-cased tag name.
func (e *Element) Tag() string {
	if e.node.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(e.node.Data)
}

// Attr returns an attribute value and whether it is present.
func (e *Element) Attr(name string) (string, bool) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return lookupAttr(e.node, name)
}

// Value returns the live value property.
func (e *Element) Value() string {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.doc.valueLocked(e)
}

// Checked returns the live checkedness of a checkbox or radio.
func (e *Element) Checked() bool {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.checkedLocked()
}

// Selected returns the live selectedness of an <option>.
func (e *Element) Selected() bool {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.selectedLocked()
}

// Text returns the concatenated text content.
func (e *Element) Text() string {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return textContent(e.node)
}

func (e *Element) checkedLocked() bool {
	if e.checked != nil {
		return *e.checked
	}
	_, ok := lookupAttr(e.node, "checked")
	return ok
}

func (e *Element) selectedLocked() bool {
	if e.selected != nil {
		return *e.selected
	}
	_, ok := lookupAttr(e.node, "selected")
	return ok
}

// valueLocked mirrors the HTMLInputElement/HTMLSelectElement value getters.
func (d *Document) valueLocked(e *Element) string {
	switch e.Tag() {
	case "select":
		if opt := d.selectedOptionLocked(e.node); opt != nil {
			return d.optionValueLocked(opt)
		}
		return ""
	case "option":
		return d.optionValueLocked(e.node)
	case "textarea":
		if e.value != nil {
			return *e.value
		}
		return textContent(e.node)
	}
	if e.value != nil {
		return *e.value
	}
	v, _ := lookupAttr(e.node, "value")
	return v
}

func (d *Document) optionValueLocked(n *html.Node) string {
	if v, ok := lookupAttr(n, "value"); ok {
		return v
	}
	return strings.TrimSpace(textContent(n))
}

// selectedOptionLocked returns the last selected option, or the first option
// when none is selected, matching a single-select's default.
func (d *Document) selectedOptionLocked(sel *html.Node) *html.Node {
	options := optionNodes(sel)
	var chosen *html.Node
	for _, opt := range options {
		if d.wrap(opt).selectedLocked() {
			chosen = opt
		}
	}
	if chosen == nil && len(options) > 0 {
		chosen = options[0]
	}
	return chosen
}

func optionNodes(sel *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if c.Data == "option" {
				out = append(out, c)
				continue
			}
			if c.Data == "optgroup" {
				walk(c)
			}
		}
	}
	walk(sel)
	return out
}

func lookupAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, name string) string {
	v, _ := lookupAttr(n, name)
	return v
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
				continue
			}
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
