package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	readability "github.com/go-shiori/go-readability"

	"github.com/ntegrals/openbrowser/internal/config"
)

// Extract renders the active tab's current DOM to Markdown via
// go-readability + html-to-markdown (§4.4 "extract"). Grounded directly on
// internal/tools/web/fetch.go's FetchMarkdown content pipeline, adapted
// from an HTTP-fetched document to the live, already-rendered page
// chromedp holds — query narrows the result to content matching it when
// non-empty, mirroring that file's PreferReadable fallback-to-full-HTML
// behavior when extraction yields nothing useful.
func (b *Browser) Extract(ctx context.Context, query string) (string, error) {
	t := b.current()
	if t == nil {
		return "", fmt.Errorf("browser: no active tab")
	}

	var outerHTML string
	if err := chromedp.Run(t.ctx, chromedp.OuterHTML("html", &outerHTML)); err != nil {
		return "", err
	}

	base, _ := url.Parse(t.url)
	md, title, err := toMarkdown(outerHTML, t.url, base)
	if err != nil {
		return "", err
	}
	if title != "" {
		md = "# " + title + "\n\n" + md
	}
	if query != "" {
		md = filterByQuery(md, query)
	}
	return strings.TrimSpace(md), nil
}

// ExtractStructured asks the page to report values matching schema's
// top-level keys by name/label/placeholder heuristics, returning a JSON
// object as text (§4.4 "extract_structured"). There is no model call here;
// it is a best-effort DOM query, leaving actual structured interpretation
// to the caller (the model, reading the JSON back).
func (b *Browser) ExtractStructured(ctx context.Context, schema map[string]any) (string, error) {
	t := b.current()
	if t == nil {
		return "", fmt.Errorf("browser: no active tab")
	}
	keys := make([]string, 0, len(schema))
	for k := range schema {
		keys = append(keys, k)
	}
	script := fmt.Sprintf(`(function(){
		var keys = %s;
		var out = {};
		keys.forEach(function(key){
			var el = document.querySelector('[name="' + key + '"], #' + key + ', [data-field="' + key + '"]');
			out[key] = el ? (el.innerText || el.value || '').trim() : null;
		});
		return JSON.stringify(out);
	})()`, mustJSONArray(keys))
	var raw string
	if err := chromedp.Run(t.ctx, chromedp.Evaluate(script, &raw)); err != nil {
		return "", err
	}
	return raw, nil
}

// Find searches the current DOM index for elements whose text matches
// query and reports their indices and text, so the model can act on the
// right one without a full re-Extract (§4.4 "find").
func (b *Browser) Find(ctx context.Context, query string) (string, error) {
	if _, err := b.State(ctx); err != nil {
		return "", err
	}
	t := b.current()
	b.mu.Lock()
	defer b.mu.Unlock()

	needle := strings.ToLower(query)
	var matches []string
	for idx, text := range t.textByIndex {
		if needle == "" || strings.Contains(strings.ToLower(text), needle) {
			matches = append(matches, fmt.Sprintf("%d: %s", idx, text))
		}
	}
	if len(matches) == 0 {
		return "no elements found", nil
	}
	return strings.Join(matches, "\n"), nil
}

func toMarkdown(html, sourceURL string, base *url.URL) (markdown, title string, err error) {
	articleHTML := html
	var usedReadable bool
	if base != nil {
		art, rerr := readability.FromReader(strings.NewReader(html), base)
		if rerr == nil && strings.TrimSpace(art.Content) != "" {
			articleHTML = art.Content
			title = strings.TrimSpace(art.Title)
			usedReadable = true
		}
	}
	_ = usedReadable

	domain := ""
	if base != nil {
		domain = base.Scheme + "://" + base.Host
	}
	md, err := htmltomarkdown.ConvertString(articleHTML, converter.WithDomain(domain))
	if err != nil {
		return "", "", fmt.Errorf("html->markdown: %w", err)
	}
	return md, title, nil
}

func filterByQuery(markdown, query string) string {
	needle := strings.ToLower(query)
	lines := strings.Split(markdown, "\n")
	var kept []string
	for _, l := range lines {
		if strings.Contains(strings.ToLower(l), needle) {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		return markdown
	}
	return strings.Join(kept, "\n")
}

func mustJSONArray(keys []string) string {
	b, err := json.Marshal(keys)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// Search runs query against a SearXNG instance if configured, falling back
// to scraping DuckDuckGo Lite in a scratch tab (§4.4 "search"), grounded on
// the teacher's GetSearXNGResults/SearchDDG.
func (b *Browser) Search(ctx context.Context, query string) (string, error) {
	urls, err := b.runSearch(ctx, query)
	if err != nil {
		return "", err
	}
	return strings.Join(urls, "\n"), nil
}

// WebSearch runs the search and also fetches each result's extracted
// content, concatenated (§4.4 "web_search"), mirroring the teacher's
// GetSearchResults.
func (b *Browser) WebSearch(ctx context.Context, query string) (string, error) {
	urls, err := b.runSearch(ctx, query)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for _, u := range urls {
		idx, err := b.NewTab(ctx, u)
		if err != nil {
			continue
		}
		content, err := b.Extract(ctx, "")
		_ = b.CloseTab(ctx, &idx)
		if err != nil || content == "" {
			continue
		}
		fmt.Fprintf(&out, "Source: %s\n\n%s\n\n", u, content)
	}
	return out.String(), nil
}

func (b *Browser) runSearch(ctx context.Context, query string) ([]string, error) {
	if b.cfg.SearXNGEndpoint != "" {
		return searchSearXNG(ctx, b.cfg, query)
	}
	return b.searchDDG(ctx, query)
}

// searchDDG drives a disposable tab through DuckDuckGo Lite's search form,
// adapted directly from the teacher's SearchDDG (same selectors, same
// wait-then-collect-anchors shape), generalized to run in whichever tab
// context this Browser session hands it rather than a fresh chromedp
// allocator per call.
func (b *Browser) searchDDG(ctx context.Context, query string) ([]string, error) {
	idx, err := b.NewTab(ctx, "")
	if err != nil {
		return nil, err
	}
	defer func() { _ = b.CloseTab(ctx, &idx) }()

	t := b.current()
	searchCtx, cancel := context.WithTimeout(t.ctx, 30*time.Second)
	defer cancel()

	var nodes []*cdp.Node
	err = chromedp.Run(searchCtx,
		chromedp.Navigate(`https://lite.duckduckgo.com/lite/`),
		chromedp.WaitVisible(`input[name="q"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="q"]`, query+kb.Enter, chromedp.ByQuery),
		chromedp.Sleep(3*time.Second),
		chromedp.Nodes(`a`, &nodes, chromedp.ByQueryAll),
	)
	if err != nil {
		return nil, fmt.Errorf("ddg search: %w", err)
	}

	seen := map[string]bool{}
	var urls []string
	for _, n := range nodes {
		href := n.AttributeValue("href")
		if strings.HasPrefix(href, "http") && !strings.Contains(href, "duckduckgo") && !seen[href] {
			seen[href] = true
			urls = append(urls, href)
		}
	}
	return urls, nil
}

// searxngResponse mirrors the JSON shape SearXNG's /search?format=json
// endpoint returns; only the fields used for result URLs are modeled.
type searxngResponse struct {
	Results []struct {
		URL string `json:"url"`
	} `json:"results"`
}

func searchSearXNG(ctx context.Context, cfg config.BrowserConfig, query string) ([]string, error) {
	endpoint := strings.TrimRight(cfg.SearXNGEndpoint, "/") + "/search"
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid searxng endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	body, err := httpGet(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("searxng request: %w", err)
	}

	var resp searxngResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("searxng response: %w", err)
	}
	urls := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.URL != "" {
			urls = append(urls, r.URL)
		}
	}
	return urls, nil
}
