package browser

import (
	"context"
	"fmt"
)

// FocusTab switches the active tab for subsequent commands (§4.4 "focus_tab").
func (b *Browser) FocusTab(ctx context.Context, index int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index >= len(b.tabs) {
		return fmt.Errorf("no tab at index %d", index)
	}
	b.active = index
	return nil
}

// NewTab opens a tab, optionally navigating it to url, and returns its
// index (§4.4 "new_tab").
func (b *Browser) NewTab(ctx context.Context, url string) (int, error) {
	t, err := b.newTab()
	if err != nil {
		return 0, fmt.Errorf("browser: open tab: %w", err)
	}

	b.mu.Lock()
	b.tabs = append(b.tabs, t)
	index := len(b.tabs) - 1
	b.active = index
	b.mu.Unlock()

	if url != "" {
		if err := b.Navigate(ctx, url); err != nil {
			return index, err
		}
	}
	return index, nil
}

// CloseTab closes the tab at index (or the active tab if index is nil),
// falling back to the nearest remaining tab as the new active tab (§4.4
// "close_tab").
func (b *Browser) CloseTab(ctx context.Context, index *int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	target := b.active
	if index != nil {
		target = *index
	}
	if target < 0 || target >= len(b.tabs) {
		return fmt.Errorf("no tab at index %d", target)
	}
	if len(b.tabs) == 1 {
		return fmt.Errorf("cannot close the last remaining tab")
	}

	b.tabs[target].cancel()
	b.tabs = append(b.tabs[:target], b.tabs[target+1:]...)

	if b.active >= len(b.tabs) {
		b.active = len(b.tabs) - 1
	} else if b.active > target {
		b.active--
	}
	return nil
}

// tabCount reports how many tabs are currently open, used by tests and
// diagnostics without exposing the tab slice itself.
func (b *Browser) tabCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tabs)
}
