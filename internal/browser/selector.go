package browser

import (
	"fmt"

	"github.com/chromedp/chromedp"
)

// SelectorKind tells the driver how to interpret a selector query.
type SelectorKind string

const (
	CSS   SelectorKind = "css"
	XPath SelectorKind = "xpath"
)

// Selector locates a UI control by attribute (CSS) or by text (XPath).
type Selector struct {
	Query string       `mapstructure:"query" yaml:"query" json:"query"`
	Kind  SelectorKind `mapstructure:"kind" yaml:"kind" json:"kind"`
}

// ParseKind normalizes a configured kind, defaulting to CSS.
func ParseKind(s string) (SelectorKind, error) {
	switch SelectorKind(s) {
	case "", CSS:
		return CSS, nil
	case XPath:
		return XPath, nil
	default:
		return "", fmt.Errorf("unknown selector kind %q (want %q or %q)", s, CSS, XPath)
	}
}

func (s Selector) String() string {
	if s.Kind == XPath {
		return "xpath:" + s.Query
	}
	return s.Query
}

// allBy matches every node, used for presence checks.
func (s Selector) allBy() chromedp.QueryOption {
	if s.Kind == XPath {
		return chromedp.BySearch
	}
	return chromedp.ByQueryAll
}

// firstBy matches the first node, used for interaction.
func (s Selector) firstBy() chromedp.QueryOption {
	if s.Kind == XPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}
