package catalog

import (
	"strings"
	"testing"

	"github.com/lotas/plfolders/internal/dom"
	"golang.org/x/net/html"
)

func card(id, title, owner, count string) string {
	var b strings.Builder
	b.WriteString(`<yt-lockup-view-model class="lockup content-id-` + id + `">`)
	b.WriteString(`<a href="/playlist?list=` + id + `">open</a>`)
	if title != "" {
		b.WriteString(`<h3>` + title + `</h3>`)
	}
	if owner != "" {
		b.WriteString(`<a href="/@` + owner + `">` + owner + `</a>`)
	}
	if count != "" {
		b.WriteString(`<div class="yt-badge-shape__text">` + count + `</div>`)
	}
	b.WriteString(`</yt-lockup-view-model>`)
	return b.String()
}

func library(cards ...string) string {
	return `<html><body><ytd-browse page-subtype="playlists">` + strings.Join(cards, "") + `</ytd-browse></body></html>`
}

func parse(t *testing.T, src string) *html.Node {
	t.Helper()
	doc, err := dom.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func newScanner(t *testing.T) *Scanner {
	t.Helper()
	s, err := NewScanner(DefaultSelectors(), DefaultAllowedPrefixes)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	return s
}

func firstElement(doc *html.Node, tag string) *html.Node {
	if doc.Type == html.ElementNode && doc.Data == tag {
		return doc
	}
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if n := firstElement(c, tag); n != nil {
			return n
		}
	}
	return nil
}

func TestExtractStrategies(t *testing.T) {
	ex, err := NewExtractor("content-id-", `a[href*="list="]`, DefaultAllowedPrefixes)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	tests := []struct {
		name   string
		markup string
		want   string
		ok     bool
	}{
		{"class token", `<div class="x content-id-PLabc123"></div>`, "PLabc123", true},
		{"link only", `<div><a href="/playlist?list=OLAK5uy_x">a</a></div>`, "OLAK5uy_x", true},
		{"watch link", `<div><a href="/watch?v=abc&amp;list=PLzz">a</a></div>`, "PLzz", true},
		{"class rejected, link accepted", `<div class="content-id-RDmix"><a href="/playlist?list=PLok">a</a></div>`, "PLok", true},
		{"mix rejected", `<div class="content-id-RDCLAK5uy"></div>`, "", false},
		{"watch later rejected", `<div><a href="/playlist?list=WL">a</a></div>`, "", false},
		{"not id shaped", `<div class="content-id-PL$$$"></div>`, "", false},
		{"nothing", `<div><span>hello</span></div>`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := parse(t, `<html><body>`+tt.markup+`</body></html>`)
			got, ok := ex.Extract(firstElement(doc, "div"))
			if got != tt.want || ok != tt.ok {
				t.Errorf("Extract = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestExtractNilAndText(t *testing.T) {
	ex, _ := NewExtractor("content-id-", "", DefaultAllowedPrefixes)
	if _, ok := ex.Extract(nil); ok {
		t.Error("Extract(nil) reported an id")
	}
	if _, ok := ex.Extract(&html.Node{Type: html.TextNode, Data: "PL1"}); ok {
		t.Error("Extract(text node) reported an id")
	}
}

func TestScanOrderAndMetadata(t *testing.T) {
	doc := parse(t, library(
		card("PL1", "Jazz", "alice", "12 videos"),
		card("PL2", "", "", ""),
		card("RDmix", "My Mix", "", ""),
		card("OL9", "Album", "band", "9 tracks"),
	))
	items := newScanner(t).Scan(doc)

	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}
	ids := []string{items[0].ExternalID, items[1].ExternalID, items[2].ExternalID}
	if strings.Join(ids, ",") != "PL1,PL2,OL9" {
		t.Errorf("ids = %v", ids)
	}
	if items[0].Title != "Jazz" || items[0].Owner != "alice" || items[0].Count != "12 videos" {
		t.Errorf("item 0 = %+v", items[0])
	}
	if items[1].Title != UntitledLabel || items[1].Owner != OwnLabel || items[1].Count != NoCountLabel {
		t.Errorf("item 1 defaults = %+v", items[1])
	}
	if items[0].Node == nil || items[0].Node.Data != "yt-lockup-view-model" {
		t.Errorf("item 0 node = %+v", items[0].Node)
	}
}

func TestScanDeduplicatesFirstWins(t *testing.T) {
	doc := parse(t, library(
		card("PL1", "First", "", ""),
		card("PL2", "Other", "", ""),
		card("PL1", "Second", "", ""),
	))
	items := newScanner(t).Scan(doc)
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].ExternalID != "PL1" || items[0].Title != "First" {
		t.Errorf("dedup kept %+v, want first occurrence", items[0])
	}
}

func TestScanExcludesNonAuthoritativeContainer(t *testing.T) {
	src := `<html><body>
<ytd-browse page-subtype="home">` + card("PLhome", "Home copy", "", "") + card("PL1", "Home dup", "", "") + `</ytd-browse>
<ytd-browse page-subtype="playlists">` + card("PL1", "Library", "", "") + `</ytd-browse>
</body></html>`
	s := newScanner(t)
	doc := parse(t, src)

	if _, scoped := s.Root(doc); !scoped {
		t.Fatal("Root did not find the library container")
	}
	items := s.Scan(doc)
	if len(items) != 1 || items[0].ExternalID != "PL1" || items[0].Title != "Library" {
		t.Errorf("items = %+v, want only the library copy of PL1", items)
	}
}

func TestScanFallsBackToDocument(t *testing.T) {
	doc := parse(t, `<html><body><div>`+card("PL1", "A", "", "")+card("UUuploads", "B", "", "")+`</div></body></html>`)
	s := newScanner(t)
	if _, scoped := s.Root(doc); scoped {
		t.Fatal("Root reported the container on a page without one")
	}
	items := s.Scan(doc)
	if len(items) != 1 || items[0].ExternalID != "PL1" {
		t.Errorf("items = %+v, want [PL1]", items)
	}
}

func TestScanEmptyAndNil(t *testing.T) {
	s := newScanner(t)
	if items := s.Scan(nil); items != nil {
		t.Errorf("Scan(nil) = %v", items)
	}
	if n := s.Count(parse(t, `<html><body></body></html>`)); n != 0 {
		t.Errorf("Count(empty) = %d", n)
	}
}

func TestNewScannerRejectsBadSelectors(t *testing.T) {
	sel := DefaultSelectors()
	sel.Item = ""
	if _, err := NewScanner(sel, nil); err == nil {
		t.Error("expected error for empty item selector")
	}
	sel = DefaultSelectors()
	sel.Title = "h3[["
	if _, err := NewScanner(sel, nil); err == nil {
		t.Error("expected error for malformed selector")
	}
}
