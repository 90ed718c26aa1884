package browser

import (
	"encoding/json"
	"fmt"

	"github.com/chromedp/chromedp"
)

// SelectorKind tells the handle how to resolve a selector query.
type SelectorKind int

// Selector kinds.
const (
	KindCSS SelectorKind = iota
	KindXPath
)

// Selector locates elements on the current page.
type Selector struct {
	Query string
	Kind  SelectorKind
}

// CSS returns a CSS selector.
func CSS(query string) Selector {
	return Selector{Query: query, Kind: KindCSS}
}

// XPath returns an XPath selector.
func XPath(query string) Selector {
	return Selector{Query: query, Kind: KindXPath}
}

func (s Selector) String() string {
	if s.Kind == KindXPath {
		return "xpath:" + s.Query
	}
	return s.Query
}

func (s Selector) queryOptions() []chromedp.QueryOption {
	if s.Kind == KindXPath {
		return []chromedp.QueryOption{chromedp.BySearch}
	}
	return []chromedp.QueryOption{chromedp.ByQuery}
}

// nodesJS returns a JS expression evaluating to an array of the matched elements.
// The query is JSON-encoded so arbitrary selector text cannot break the script.
func (s Selector) nodesJS() string {
	q, _ := json.Marshal(s.Query)
	if s.Kind == KindXPath {
		return fmt.Sprintf(`(() => {
	const r = document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
	const out = [];
	for (let i = 0; i < r.snapshotLength; i++) out.push(r.snapshotItem(i));
	return out;
})()`, q)
	}
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%s))`, q)
}
