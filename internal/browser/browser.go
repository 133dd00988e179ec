// Package browser implements the chromedp-backed Browser collaborator
// (spec §6) that internal/commands.Browser abstracts over. Grounded on the
// teacher's internal/web/web.go (chromedp.NewExecAllocator/NewContext
// session setup, headless flag, navigation-timeout pattern), generalized
// from that package's one-shot fetch/search functions into a long-lived,
// multi-tab session that the Step Loop drives one command at a time.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"

	"github.com/ntegrals/openbrowser/internal/commands"
	"github.com/ntegrals/openbrowser/internal/config"
)

// tab tracks one chromedp browser tab's context and the index->selector
// map built by the most recent State() call on that tab.
type tab struct {
	ctx         context.Context
	cancel      context.CancelFunc
	selectorMap map[int]string
	textByIndex map[int]string
	url         string
}

// Browser drives a real Chrome/Chromium instance via chromedp and
// implements commands.Browser. Not safe for concurrent command execution
// (the Step Loop only ever has one command in flight at a time per spec
// §4.1), but Close/tab bookkeeping takes its own lock since metrics and
// supervisor goroutines may read tab count concurrently.
type Browser struct {
	cfg         config.BrowserConfig
	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu     sync.Mutex
	tabs   []*tab
	active int
}

// New launches a Chrome instance (headless per cfg.Headless) and opens its
// first tab.
func New(ctx context.Context, cfg config.BrowserConfig) (*Browser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)

	b := &Browser{cfg: cfg, allocCtx: allocCtx, allocCancel: allocCancel}

	t, err := b.newTab()
	if err != nil {
		allocCancel()
		return nil, fmt.Errorf("browser: open first tab: %w", err)
	}
	b.tabs = append(b.tabs, t)
	return b, nil
}

func (b *Browser) newTab() (*tab, error) {
	tabCtx, cancel := chromedp.NewContext(b.allocCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, err
	}
	return &tab{ctx: tabCtx, cancel: cancel, selectorMap: map[int]string{}, textByIndex: map[int]string{}}, nil
}

// Close tears down every tab and the underlying browser process.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.tabs {
		t.cancel()
	}
	b.allocCancel()
}

func (b *Browser) current() *tab {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active < 0 || b.active >= len(b.tabs) {
		return nil
	}
	return b.tabs[b.active]
}

func (b *Browser) navTimeout() time.Duration {
	if b.cfg.NavigationTimeoutSeconds > 0 {
		return time.Duration(b.cfg.NavigationTimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// CurrentURL returns the active tab's last-known URL without round-tripping
// to the browser (commands.Browser's synchronous accessor).
func (b *Browser) CurrentURL() string {
	t := b.current()
	if t == nil {
		return ""
	}
	return t.url
}

// Navigate loads url in the active tab (§4.4 "navigate").
func (b *Browser) Navigate(ctx context.Context, url string) error {
	t := b.current()
	if t == nil {
		return fmt.Errorf("browser: no active tab")
	}
	navCtx, cancel := context.WithTimeout(t.ctx, b.navTimeout())
	defer cancel()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url), chromedp.WaitReady("body")); err != nil {
		return &commands.NavigationFailedError{URL: url, Reason: err.Error()}
	}
	t.url = url
	return nil
}

// Back navigates the active tab one entry back in its history.
func (b *Browser) Back(ctx context.Context) error {
	t := b.current()
	if t == nil {
		return fmt.Errorf("browser: no active tab")
	}
	navCtx, cancel := context.WithTimeout(t.ctx, b.navTimeout())
	defer cancel()
	if err := chromedp.Run(navCtx, chromedp.NavigateBack(), chromedp.WaitReady("body")); err != nil {
		return &commands.NavigationFailedError{URL: "back", Reason: err.Error()}
	}
	var url string
	_ = chromedp.Run(navCtx, chromedp.Location(&url))
	if url != "" {
		t.url = url
	}
	return nil
}

// Wait blocks for ms milliseconds, honoring ctx cancellation (§4.4 "wait").
func (b *Browser) Wait(ctx context.Context, ms int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	}
}

// Screenshot captures the active tab's full-page viewport as a PNG, per
// the teacher's GetPageScreen (chromedp.FullScreenshot), returning the
// encoded bytes directly instead of writing a file — the Step Loop embeds
// it in a State message rather than persisting it.
func (b *Browser) Screenshot(ctx context.Context) ([]byte, error) {
	t := b.current()
	if t == nil {
		return nil, fmt.Errorf("browser: no active tab")
	}
	var buf []byte
	if err := chromedp.Run(t.ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		log.Debug().Err(err).Msg("browser_screenshot_failed")
		return nil, err
	}
	return buf, nil
}
