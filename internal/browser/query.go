package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"streamwatch/internal/logging"
)

// Element is a static view of one matched node.
type Element struct {
	Tag   string
	Attrs map[string]string
	Text  string
}

// Attr returns the attribute value, or "" when absent.
func (e Element) Attr(name string) string {
	return e.Attrs[name]
}

// Cookie is a browser cookie as seen by the current page.
type Cookie struct {
	Name   string
	Value  string
	Domain string
}

// ClickOutcome reports what Click did.
type ClickOutcome int

const (
	// ClickAbsent means no element matched the selector.
	ClickAbsent ClickOutcome = iota
	// ClickSkipped means the first match is not a button.
	ClickSkipped
	// ClickDone means the button was clicked.
	ClickDone
	// ClickFailed means the click itself returned an error.
	ClickFailed
)

func (o ClickOutcome) String() string {
	switch o {
	case ClickAbsent:
		return "absent"
	case ClickSkipped:
		return "skipped"
	case ClickDone:
		return "done"
	case ClickFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseSnapshot parses a body fragment into a queryable document.
func ParseSnapshot(body string) (*goquery.Document, error) {
	node, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return goquery.NewDocumentFromNode(node), nil
}

// Elements converts a selection into static elements.
func Elements(sel *goquery.Selection) []Element {
	out := make([]Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		el := Element{
			Tag:   goquery.NodeName(s),
			Attrs: make(map[string]string),
			Text:  strings.TrimSpace(s.Text()),
		}
		if n := s.Get(0); n != nil {
			for _, a := range n.Attr {
				el.Attrs[a.Key] = a.Val
			}
		}
		out = append(out, el)
	})
	return out
}

// Snapshot captures the current body markup as a static document.
func (m *Manager) Snapshot(ctx context.Context) (*goquery.Document, error) {
	p, release, err := m.page(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	res, err := p.Eval(`() => document.body.innerHTML`)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return ParseSnapshot(res.Value.Str())
}

// Query returns every element in a fresh snapshot matching selector.
func (m *Manager) Query(ctx context.Context, selector string) ([]Element, error) {
	doc, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return Elements(doc.Find(selector)), nil
}

// Click clicks the first match of selector when it is a button, then
// pauses briefly so the page can react.
func (m *Manager) Click(ctx context.Context, selector string) (ClickOutcome, error) {
	matches, err := m.Query(ctx, selector)
	if err != nil {
		return ClickFailed, err
	}
	if len(matches) == 0 {
		return ClickAbsent, nil
	}
	if matches[0].Tag != "button" {
		logging.BrowserDebug("Skipping click on <%s> for %s", matches[0].Tag, selector)
		return ClickSkipped, nil
	}

	p, release, err := m.page(ctx)
	if err != nil {
		return ClickFailed, err
	}
	defer release()
	el, err := p.Element(selector)
	if err != nil {
		return ClickFailed, fmt.Errorf("find %s: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return ClickFailed, fmt.Errorf("click %s: %w", selector, err)
	}
	m.logger.Debug("Clicked", zap.String("selector", selector))

	if err := sleep(ctx, m.settle); err != nil {
		return ClickDone, err
	}
	return ClickDone, nil
}

// ClickByID clicks the element with the given id from page script.
func (m *Manager) ClickByID(ctx context.Context, id string) error {
	p, release, err := m.page(ctx)
	if err != nil {
		return err
	}
	defer release()
	res, err := p.Eval(`(id) => {
		const el = document.getElementById(id);
		if (!el) return false;
		el.click();
		return true;
	}`, id)
	if err != nil {
		return fmt.Errorf("click #%s: %w", id, err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("click #%s: element not found", id)
	}
	return nil
}

// PressKey types each rune of key on the page keyboard.
func (m *Manager) PressKey(ctx context.Context, key string) error {
	p, release, err := m.page(ctx)
	if err != nil {
		return err
	}
	defer release()
	keys := make([]input.Key, 0, len(key))
	for _, r := range key {
		keys = append(keys, input.Key(r))
	}
	if err := p.Keyboard.Type(keys...); err != nil {
		return fmt.Errorf("press %q: %w", key, err)
	}
	return nil
}

// WaitFor blocks until selector matches an element.
func (m *Manager) WaitFor(ctx context.Context, selector string) error {
	p, release, err := m.page(ctx)
	if err != nil {
		return err
	}
	defer release()
	if _, err := p.Element(selector); err != nil {
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	return nil
}

// Navigate loads url and waits for the network to go idle, or almost idle
// when idle is false.
func (m *Manager) Navigate(ctx context.Context, url string, idle bool) error {
	// The lifecycle subscription lives on navCtx and ends with this call.
	navCtx, stop := context.WithCancel(ctx)
	defer stop()
	p, release, err := m.page(navCtx)
	if err != nil {
		return err
	}
	defer release()
	event := proto.PageLifecycleEventNameNetworkAlmostIdle
	if idle {
		event = proto.PageLifecycleEventNameNetworkIdle
	}
	wait := p.WaitNavigation(event)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	logging.BrowserDebug("Navigated to %s", url)
	return nil
}

// Screenshot captures the viewport as PNG.
func (m *Manager) Screenshot(ctx context.Context) ([]byte, error) {
	p, release, err := m.page(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	data, err := p.Screenshot(false, nil)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return data, nil
}

// Cookies returns the cookies visible to the current page.
func (m *Manager) Cookies(ctx context.Context) ([]Cookie, error) {
	p, release, err := m.page(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	raw, err := p.Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	out := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain})
	}
	return out, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
