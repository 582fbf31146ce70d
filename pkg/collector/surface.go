package collector

import (
	"context"
	"errors"
)

// ErrNoSuchElement is returned by Element.Find when nothing matches.
var ErrNoSuchElement = errors.New("no such element")

// Surface is a rendered page that can be driven by scripts. One Surface
// belongs to one crawl run and must not be used concurrently.
type Surface interface {
	Navigate(ctx context.Context, url string) error
	// ExecuteScript evaluates a JavaScript expression and decodes its value
	// into res.
	ExecuteScript(ctx context.Context, script string, res any) error
	FindVisibleItems(ctx context.Context, selector string) ([]Element, error)
}

// Element is one node of the rendered page.
type Element interface {
	Text() string
	Attribute(name string) (string, bool)
	// Find returns the first descendant matching selector or
	// ErrNoSuchElement.
	Find(selector string) (Element, error)
}
