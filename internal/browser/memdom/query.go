// internal/browser/memdom/query.go
package memdom

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
)

// Default box size for attached, displayed elements with no explicit size.
const (
	defaultWidth  = 100
	defaultHeight = 20
)

// queryCSS returns the first descendant of scope matching selector, in
// document order.
func queryCSS(scope *html.Node, selector string) (*html.Node, error) {
	group, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("memdom: invalid selector %q: %w", selector, err)
	}
	return cascadia.Query(scope, group), nil
}

// queryXPath evaluates expr with scope as the context node and returns the
// first element node of the result set in document order. The navigator is
// rooted at the owning document, so absolute paths and "//" see the whole
// tree while ".//" stays inside scope.
func queryXPath(scope *html.Node, expr string) (*html.Node, error) {
	compiled, err := xpath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("memdom: invalid xpath %q: %w", expr, err)
	}
	iter := compiled.Select(navigatorAt(scope))
	for iter.MoveNext() {
		nav, ok := iter.Current().(*htmlquery.NodeNavigator)
		if ok && nav.NodeType() == xpath.ElementNode {
			return nav.Current(), nil
		}
	}
	return nil, nil
}

// navigatorAt returns a navigator rooted at n's topmost ancestor and
// positioned on n.
func navigatorAt(n *html.Node) *htmlquery.NodeNavigator {
	var path []*html.Node
	top := n
	for ; top.Parent != nil; top = top.Parent {
		path = append(path, top)
	}
	nav := htmlquery.CreateXPathNavigator(top)
	for i := len(path) - 1; i >= 0; i-- {
		nav.MoveToChild()
		for nav.Current() != path[i] && nav.MoveToNext() {
		}
	}
	return nav
}

// inlineStyle parses the style attribute into lower-cased property/value pairs.
// Unparseable styles are treated as empty, as a browser drops bad declarations.
func inlineStyle(n *html.Node) map[string]string {
	raw, ok := lookupAttr(n, "style")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	decls, err := parser.ParseDeclarations(raw)
	if err != nil {
		return nil
	}
	out := make(map[string]string, len(decls))
	for _, d := range decls {
		out[strings.ToLower(d.Property)] = strings.ToLower(strings.TrimSpace(d.Value))
	}
	return out
}

// computedVisibilityLocked resolves the inherited visibility property.
func computedVisibilityLocked(n *html.Node) string {
	for p := n; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		if v, ok := inlineStyle(p)["visibility"]; ok && v != "inherit" {
			return v
		}
	}
	return "visible"
}

// renderedLocked reports whether no inclusive ancestor removes n from layout.
func renderedLocked(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		if _, hidden := lookupAttr(p, "hidden"); hidden {
			return false
		}
		if inlineStyle(p)["display"] == "none" {
			return false
		}
	}
	return true
}

// boundingRectLocked approximates getBoundingClientRect.
func (d *Document) boundingRectLocked(e *Element) Rect {
	if !d.connectedLocked(e.node) || !renderedLocked(e.node) {
		return Rect{}
	}
	if e.rect != nil {
		return *e.rect
	}
	style := inlineStyle(e.node)
	r := Rect{Width: defaultWidth, Height: defaultHeight}
	if w, ok := pixels(style["width"]); ok {
		r.Width = w
	}
	if h, ok := pixels(style["height"]); ok {
		r.Height = h
	}
	return r
}

func pixels(v string) (float64, bool) {
	v = strings.TrimSuffix(strings.TrimSpace(v), "px")
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// radioGroup returns every radio input in the tree named name.
func radioGroup(root *html.Node, name string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "input" &&
			strings.EqualFold(attr(n, "type"), "radio") && attr(n, "name") == name {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}
