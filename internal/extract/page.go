// Package extract turns VF-7 result pages into structured records.
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ResultMarker is the khata-number column header only the result page shows.
const ResultMarker = "ખાતા નંબર"

// PageKind is what a captured page turned out to be.
type PageKind int

// Page kinds.
const (
	PageUnknown PageKind = iota
	PageForm
	PageResult
	PageError
)

func (k PageKind) String() string {
	switch k {
	case PageForm:
		return "form"
	case PageResult:
		return "result"
	case PageError:
		return "error"
	default:
		return "unknown"
	}
}

var errorSelectors = []string{"[id*='lblError']", "[id*='lblMsg']"}

// Detect classifies doc. A result marker wins over an error label because
// the result page keeps an empty message span.
func Detect(doc *goquery.Document) (PageKind, string) {
	text := doc.Text()
	if strings.Contains(text, ResultMarker) {
		return PageResult, ""
	}
	for _, sel := range errorSelectors {
		if msg := strings.TrimSpace(doc.Find(sel).First().Text()); msg != "" {
			return PageError, msg
		}
	}
	if doc.Find("select").Length() > 0 {
		return PageForm, ""
	}
	return PageUnknown, ""
}
