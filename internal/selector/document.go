// Package selector wraps goquery so the extractor can evaluate CSS selectors
// against fetched markup without depending on goquery types.
package selector

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// Document is a parsed, queryable page.
type Document struct {
	doc *goquery.Document
}

// Node is one element (or the document root) used as a query scope.
type Node struct {
	sel *goquery.Selection
}

// Parse reads markup into a Document. Malformed HTML is repaired by the parser.
func Parse(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	return &Document{doc: doc}, nil
}

// ParseBytes parses an in-memory page body.
func ParseBytes(markup []byte) (*Document, error) {
	return Parse(bytes.NewReader(markup))
}

// ParseString parses markup held in a string.
func ParseString(markup string) (*Document, error) {
	return Parse(strings.NewReader(markup))
}

// Root returns the whole-document scope.
func (d *Document) Root() Node {
	return Node{sel: d.doc.Selection}
}

// FindAll returns every descendant matching selector, in document order.
// An invalid selector matches nothing.
func (n Node) FindAll(selector string) []Node {
	if n.sel == nil {
		return nil
	}
	matches := n.sel.Find(selector)
	out := make([]Node, 0, matches.Length())
	matches.Each(func(_ int, s *goquery.Selection) {
		out = append(out, Node{sel: s})
	})
	return out
}

// First returns the first descendant matching selector.
func (n Node) First(selector string) (Node, bool) {
	if n.sel == nil {
		return Node{}, false
	}
	match := n.sel.Find(selector).First()
	if match.Length() == 0 {
		return Node{}, false
	}
	return Node{sel: match}, true
}

// Text returns the trimmed text content of the node and its descendants.
func (n Node) Text() string {
	if n.sel == nil {
		return ""
	}
	return strings.TrimSpace(n.sel.Text())
}

// OuterHTML renders the node including its own tag. Rendering errors yield "".
func (n Node) OuterHTML() string {
	if n.sel == nil {
		return ""
	}
	html, err := goquery.OuterHtml(n.sel)
	if err != nil {
		return ""
	}
	return html
}

// Attr returns the trimmed attribute value and whether it was present.
func (n Node) Attr(name string) (string, bool) {
	if n.sel == nil {
		return "", false
	}
	v, ok := n.sel.Attr(name)
	return strings.TrimSpace(v), ok
}

// ResolveURL resolves ref against base. Absolute refs are returned normalised.
func ResolveURL(base, ref string) (string, error) {
	refURL, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("parse reference %q: %w", ref, err)
	}
	if refURL.IsAbs() {
		return refURL.String(), nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base %q: %w", base, err)
	}
	if !baseURL.IsAbs() {
		return "", fmt.Errorf("base %q is not absolute", base)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// Validate compiles selector and reports syntax errors.
func Validate(selector string) error {
	if _, err := cascadia.ParseGroup(selector); err != nil {
		return fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return nil
}
