package browser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/chromedp/chromedp"

	"github.com/ntegrals/openbrowser/internal/commands"
)

// indexScript walks the DOM for interactive elements, tags each with a
// data-ob-idx attribute so later Click/TypeText/Select calls can address
// it by a stable CSS selector, and reports enough structural data to build
// a PageState. Mirrors the teacher's extractArticleContent/findNodeByTag
// recursive-walk style in JS instead of Go, since this walk must run
// inside the page to see the live, script-rendered DOM chromedp's Go side
// never materializes as a tree.
const indexScript = `
(function() {
  var tags = ['a','button','input','select','textarea','option','label'];
  var nodes = document.querySelectorAll(tags.join(',') + ',[role="button"],[onclick],[tabindex]');
  var items = [];
  var idx = 0;
  nodes.forEach(function(el) {
    var rect = el.getBoundingClientRect();
    if (rect.width === 0 && rect.height === 0) { return; }
    el.setAttribute('data-ob-idx', String(idx));
    items.push({
      index: idx,
      tag: el.tagName.toLowerCase(),
      text: (el.innerText || el.value || el.getAttribute('aria-label') || '').trim().slice(0, 80),
      type: el.getAttribute('type') || ''
    });
    idx++;
  });
  return {
    url: location.href,
    title: document.title,
    scrollY: window.scrollY,
    elementCount: items.length,
    visibleText: document.body ? document.body.innerText.slice(0, 4000) : '',
    items: items
  };
})()
`

type domSnapshot struct {
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	ScrollY      float64   `json:"scrollY"`
	ElementCount int       `json:"elementCount"`
	VisibleText  string    `json:"visibleText"`
	Items        []domItem `json:"items"`
}

type domItem struct {
	Index int    `json:"index"`
	Tag   string `json:"tag"`
	Text  string `json:"text"`
	Type  string `json:"type"`
}

// State re-runs the DOM index and returns a PageState, rebuilding the
// active tab's selectorMap as a side effect so subsequent interaction
// calls address the elements this snapshot just saw (§4.1 step "observe").
func (b *Browser) State(ctx context.Context) (commands.PageState, error) {
	t := b.current()
	if t == nil {
		return commands.PageState{}, fmt.Errorf("browser: no active tab")
	}

	var raw string
	if err := chromedp.Run(t.ctx, chromedp.EvaluateAsDevTools("JSON.stringify("+indexScript+")", &raw)); err != nil {
		return commands.PageState{}, err
	}

	var snap domSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return commands.PageState{}, fmt.Errorf("browser: decode dom snapshot: %w", err)
	}

	selectorMap := make(map[int]string, len(snap.Items))
	textByIndex := make(map[int]string, len(snap.Items))
	for _, item := range snap.Items {
		selectorMap[item.Index] = fmt.Sprintf(`[data-ob-idx="%d"]`, item.Index)
		textByIndex[item.Index] = item.Text
	}
	b.mu.Lock()
	t.selectorMap = selectorMap
	t.textByIndex = textByIndex
	t.url = snap.URL
	b.mu.Unlock()

	return commands.PageState{
		URL:          snap.URL,
		Title:        snap.Title,
		ScrollY:      int(snap.ScrollY),
		ElementCount: snap.ElementCount,
		DOMHash:      hashItems(snap.Items),
		VisibleText:  snap.VisibleText,
	}, nil
}

// hashItems summarizes the indexed element set into a stable hash so the
// Stall Detector's PageSignature.DOMHash changes only when the element
// structure actually changes, not on every whitespace-only DOM mutation.
func hashItems(items []domItem) string {
	h := sha256.New()
	for _, it := range items {
		fmt.Fprintf(h, "%d:%s:%s|", it.Index, it.Tag, it.Type)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// selectorFor resolves an element index against the active tab's most
// recent State() snapshot.
func (b *Browser) selectorFor(index int) (string, error) {
	t := b.current()
	if t == nil {
		return "", fmt.Errorf("browser: no active tab")
	}
	b.mu.Lock()
	sel, ok := t.selectorMap[index]
	b.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("element not found: index %d (call find or re-observe state first)", index)
	}
	return sel, nil
}
