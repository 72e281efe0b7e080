package loader

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lotas/plfolders/internal/catalog"
	"github.com/lotas/plfolders/internal/clock"
	"github.com/lotas/plfolders/internal/dom"
	"golang.org/x/net/html"
)

func cardNode(id string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: "yt-lockup-view-model"}
	dom.SetAttr(n, "class", "content-id-"+id)
	return n
}

func container(doc *html.Node) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "ytd-browse" {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return found
}

// growingPage adds perStep cards on each scroll until total is reached.
func growingPage(t *testing.T, total, perStep int) *dom.Memory {
	t.Helper()
	page, err := dom.NewMemory(`<html><body><ytd-browse page-subtype="playlists"></ytd-browse></body></html>`)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	added := 0
	page.Grow = func(doc *html.Node) {
		root := container(doc)
		for i := 0; i < perStep && added < total; i++ {
			added++
			root.AppendChild(cardNode(fmt.Sprintf("PL%d", added)))
		}
	}
	page.SetScrollTop(context.Background(), 120)
	return page
}

func counter(t *testing.T) func(*html.Node) int {
	t.Helper()
	s, err := catalog.NewScanner(catalog.DefaultSelectors(), catalog.DefaultAllowedPrefixes)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	return s.Count
}

func TestLoadAllStopsWhenStable(t *testing.T) {
	page := growingPage(t, 25, 10)
	clk := clock.NewFake()
	d := New(page, counter(t), clk, Options{Settle: 800 * time.Millisecond, StableSteps: 3, MaxSteps: 60})

	n, err := d.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if n != 25 {
		t.Errorf("count = %d, want 25", n)
	}
	// 3 growing steps, then 3 unchanged ones.
	if page.Scrolls() != 6 {
		t.Errorf("scrolls = %d, want 6", page.Scrolls())
	}
	top, _ := page.ScrollTop(context.Background())
	if top != 120 {
		t.Errorf("scroll position = %d, want restored 120", top)
	}
	if d.Active() {
		t.Error("driver still active after LoadAll")
	}
}

func TestLoadAllRespectsMaxSteps(t *testing.T) {
	page := growingPage(t, 1<<30, 1)
	d := New(page, counter(t), clock.NewFake(), Options{Settle: time.Second, StableSteps: 3, MaxSteps: 5})

	n, err := d.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if page.Scrolls() != 5 || n != 5 {
		t.Errorf("scrolls=%d count=%d, want 5/5", page.Scrolls(), n)
	}
}

func TestLoadAllSettlesBetweenSteps(t *testing.T) {
	page := growingPage(t, 0, 0)
	clk := clock.NewFake()
	start := clk.Now()
	d := New(page, counter(t), clk, Options{Settle: 400 * time.Millisecond, StableSteps: 2, MaxSteps: 10})

	if _, err := d.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if got := clk.Now().Sub(start); got != 800*time.Millisecond {
		t.Errorf("waited %v, want 800ms", got)
	}
}

func TestLoadAllReentrancy(t *testing.T) {
	page := growingPage(t, 3, 1)
	var d *Driver
	var inner error
	clk := clock.NewFake()
	d = New(page, func(doc *html.Node) int {
		if inner == nil {
			_, inner = d.LoadAll(context.Background())
		}
		return 0
	}, clk, Options{Settle: time.Millisecond, StableSteps: 1, MaxSteps: 2})

	if _, err := d.LoadAll(context.Background()); err != nil {
		t.Fatalf("outer LoadAll: %v", err)
	}
	if !errors.Is(inner, ErrBusy) {
		t.Errorf("nested LoadAll err = %v, want ErrBusy", inner)
	}
}

func TestLoadAllCancelled(t *testing.T) {
	page := growingPage(t, 100, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := New(page, counter(t), clock.NewFake(), DefaultOptions())

	if _, err := d.LoadAll(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	top, _ := page.ScrollTop(context.Background())
	if top != 120 {
		t.Errorf("scroll position = %d, want restored 120", top)
	}
}
