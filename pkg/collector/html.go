package collector

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLElement implements Element on a parsed HTML fragment.
type HTMLElement struct {
	sel *goquery.Selection
}

// NewHTMLElement parses the outer HTML of a single element.
func NewHTMLElement(outerHTML string) (*HTMLElement, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(outerHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse element html: %w", err)
	}
	sel := doc.Find("body").Children().First()
	if sel.Length() == 0 {
		return nil, fmt.Errorf("element html is empty")
	}
	return &HTMLElement{sel: sel}, nil
}

// NewHTMLElementFromSelection wraps the first element of an already parsed
// selection.
func NewHTMLElementFromSelection(sel *goquery.Selection) (*HTMLElement, error) {
	first := sel.First()
	if first.Length() == 0 {
		return nil, fmt.Errorf("%w: empty selection", ErrNoSuchElement)
	}
	return &HTMLElement{sel: first}, nil
}

// NewHTMLElements parses every outer HTML string, dropping the ones that do
// not contain an element.
func NewHTMLElements(fragments []string) []Element {
	elements := make([]Element, 0, len(fragments))
	for _, f := range fragments {
		el, err := NewHTMLElement(f)
		if err != nil {
			continue
		}
		elements = append(elements, el)
	}
	return elements
}

func (e *HTMLElement) Text() string {
	return strings.Join(strings.Fields(e.sel.Text()), " ")
}

func (e *HTMLElement) Attribute(name string) (string, bool) {
	return e.sel.Attr(name)
}

func (e *HTMLElement) Find(selector string) (Element, error) {
	found := e.sel.Find(selector).First()
	if found.Length() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchElement, selector)
	}
	return &HTMLElement{sel: found}, nil
}
