// internal/browser/memdom/mutate.go
package memdom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// AppendChild moves child to the end of parent's children.
func (d *Document) AppendChild(parent, child *Element) error {
	if err := d.owns(parent, child); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if old := child.node.Parent; old != nil {
		old.RemoveChild(child.node)
		d.notifyLocked(old)
	}
	parent.node.AppendChild(child.node)
	d.notifyLocked(parent.node)
	return nil
}

// AppendHTML parses markup in the context of parent, appends the resulting
// nodes as one batch and returns the top-level elements.
func (d *Document) AppendHTML(parent *Element, markup string) ([]*Element, error) {
	if err := d.owns(parent); err != nil {
		return nil, err
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), contextNode(parent.node))
	if err != nil {
		return nil, fmt.Errorf("memdom: parse fragment: %w", err)
	}

	d.mu.Lock()
	var added []*html.Node
	for _, n := range nodes {
		parent.node.AppendChild(n)
		if n.Type == html.ElementNode {
			added = append(added, n)
		}
	}
	d.notifyLocked(parent.node)
	d.mu.Unlock()

	out := make([]*Element, 0, len(added))
	for _, n := range added {
		out = append(out, d.wrap(n))
	}
	return out, nil
}

// contextNode returns a fragment-parsing context; the document node itself
// cannot serve as one.
func contextNode(n *html.Node) *html.Node {
	if n.Type == html.ElementNode {
		return n
	}
	return &html.Node{Type: html.ElementNode, Data: "body"}
}

// Remove detaches el from its parent.
func (d *Document) Remove(el *Element) error {
	if err := d.owns(el); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	parent := el.node.Parent
	if parent == nil {
		return nil
	}
	if d.active != nil && isInclusiveAncestor(el.node, d.active) {
		d.active = nil
	}
	parent.RemoveChild(el.node)
	d.notifyLocked(parent)
	return nil
}

// SetAttribute sets or replaces an attribute.
func (d *Document) SetAttribute(el *Element, name, value string) error {
	if err := d.owns(el); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	name = strings.ToLower(name)
	for i, a := range el.node.Attr {
		if a.Namespace == "" && a.Key == name {
			el.node.Attr[i].Val = value
			d.notifyLocked(el.node)
			return nil
		}
	}
	el.node.Attr = append(el.node.Attr, html.Attribute{Key: name, Val: value})
	d.notifyLocked(el.node)
	return nil
}

// RemoveAttribute deletes an attribute if present.
func (d *Document) RemoveAttribute(el *Element, name string) error {
	if err := d.owns(el); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	name = strings.ToLower(name)
	for i, a := range el.node.Attr {
		if a.Namespace == "" && a.Key == name {
			el.node.Attr = append(el.node.Attr[:i], el.node.Attr[i+1:]...)
			d.notifyLocked(el.node)
			return nil
		}
	}
	return nil
}

// SetText replaces el's children with a single text node.
func (d *Document) SetText(el *Element, text string) error {
	if err := d.owns(el); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for c := el.node.FirstChild; c != nil; {
		next := c.NextSibling
		el.node.RemoveChild(c)
		c = next
	}
	el.node.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	d.notifyLocked(el.node)
	return nil
}

// SetBoundingRect overrides el's layout box. Layout changes produce no
// mutation records, so only frame watchers notice.
func (d *Document) SetBoundingRect(el *Element, r Rect) error {
	if err := d.owns(el); err != nil {
		return err
	}
	d.mu.Lock()
	el.rect = &r
	d.mu.Unlock()
	return nil
}

// ClearBoundingRect drops an override set by SetBoundingRect.
func (d *Document) ClearBoundingRect(el *Element) error {
	if err := d.owns(el); err != nil {
		return err
	}
	d.mu.Lock()
	el.rect = nil
	d.mu.Unlock()
	return nil
}

func (d *Document) owns(els ...*Element) error {
	for _, el := range els {
		if el == nil || el.doc != d {
			return ErrForeignElement
		}
	}
	return nil
}
