package commands

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeBrowser struct {
	clicked   []int
	navigated []string
	failNext  error
}

func (f *fakeBrowser) CurrentURL() string { return "https://example.com" }
func (f *fakeBrowser) Navigate(ctx context.Context, url string) error {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.navigated = append(f.navigated, url)
	return nil
}
func (f *fakeBrowser) Back(ctx context.Context) error { return nil }
func (f *fakeBrowser) State(ctx context.Context) (PageState, error) {
	return PageState{URL: f.CurrentURL(), VisibleText: "hello"}, nil
}
func (f *fakeBrowser) Screenshot(ctx context.Context) ([]byte, error) { return []byte("x"), nil }
func (f *fakeBrowser) Click(ctx context.Context, index int) error {
	f.clicked = append(f.clicked, index)
	return nil
}
func (f *fakeBrowser) TypeText(ctx context.Context, index int, text string, clearFirst bool) error {
	return nil
}
func (f *fakeBrowser) PressKeys(ctx context.Context, keys string) error               { return nil }
func (f *fakeBrowser) Scroll(ctx context.Context, direction string, index *int) error { return nil }
func (f *fakeBrowser) ScrollToText(ctx context.Context, text string) error            { return nil }
func (f *fakeBrowser) Select(ctx context.Context, index int, value string) error      { return nil }
func (f *fakeBrowser) Upload(ctx context.Context, index int, path string) error       { return nil }
func (f *fakeBrowser) Extract(ctx context.Context, query string) (string, error)      { return "extracted", nil }
func (f *fakeBrowser) ExtractStructured(ctx context.Context, schema map[string]any) (string, error) {
	return "{}", nil
}
func (f *fakeBrowser) Find(ctx context.Context, query string) (string, error)   { return "found", nil }
func (f *fakeBrowser) ListOptions(ctx context.Context, index int) ([]string, error) {
	return []string{"a", "b"}, nil
}
func (f *fakeBrowser) Search(ctx context.Context, query string) (string, error)    { return "results", nil }
func (f *fakeBrowser) WebSearch(ctx context.Context, query string) (string, error) { return "results", nil }
func (f *fakeBrowser) FocusTab(ctx context.Context, index int) error               { return nil }
func (f *fakeBrowser) NewTab(ctx context.Context, url string) (int, error)         { return 1, nil }
func (f *fakeBrowser) CloseTab(ctx context.Context, index *int) error              { return nil }
func (f *fakeBrowser) Wait(ctx context.Context, ms int) error                      { return nil }

func newTestExecutor(fb *fakeBrowser) *Executor {
	return NewExecutor(NewCatalog(), &ExecutionContext{Browser: fb, Policy: DomainPolicy{}})
}

func TestExecuteTapDispatchesToBrowser(t *testing.T) {
	fb := &fakeBrowser{}
	ex := newTestExecutor(fb)
	res := ex.Execute(context.Background(), Command{Action: ActionTap, Tap: &TapParams{Index: 3}})
	require.True(t, res.Success)
	require.Equal(t, []int{3}, fb.clicked)
}

func TestExecuteNavigateRejectsBlockedURL(t *testing.T) {
	fb := &fakeBrowser{}
	ec := &ExecutionContext{Browser: fb, Policy: DomainPolicy{Blocked: []string{"*.evil.com"}}}
	ex := NewExecutor(NewCatalog(), ec)
	res := ex.Execute(context.Background(), Command{Action: ActionNavigate, Navigate: &NavigateParams{URL: "https://sub.evil.com/x"}})
	require.False(t, res.Success)
	require.Contains(t, res.Error, "blocked")
}

func TestExecuteUnknownActionReturnsError(t *testing.T) {
	fb := &fakeBrowser{}
	ex := newTestExecutor(fb)
	res := ex.Execute(context.Background(), Command{Action: "does_not_exist"})
	require.False(t, res.Success)
}

func TestExecuteSequenceStopsOnFinish(t *testing.T) {
	fb := &fakeBrowser{}
	ex := newTestExecutor(fb)
	cmds := []Command{
		{Action: ActionTap, Tap: &TapParams{Index: 1}},
		{Action: ActionFinish, Finish: &FinishParams{Text: "done"}},
		{Action: ActionTap, Tap: &TapParams{Index: 2}},
	}
	results := ex.ExecuteSequence(context.Background(), cmds, 10)
	require.Len(t, results, 2)
	require.True(t, results[1].IsDone)
}

func TestExecuteSequenceRespectsPerStepCap(t *testing.T) {
	fb := &fakeBrowser{}
	ex := newTestExecutor(fb)
	cmds := make([]Command, 5)
	for i := range cmds {
		cmds[i] = Command{Action: ActionTap, Tap: &TapParams{Index: i}}
	}
	results := ex.ExecuteSequence(context.Background(), cmds, 2)
	require.Len(t, results, 2)
}

func TestClassifyDedicatedTypesBypassTable(t *testing.T) {
	c := Classify(&NavigationFailedError{URL: "https://x", Reason: "boom"})
	require.Equal(t, CategoryNavigation, c.Category)

	c2 := Classify(errors.New("element not found on page"))
	require.Equal(t, CategoryElementNotFound, c2.Category)
	require.True(t, c2.IsRetryable)

	c3 := Classify(errors.New("target closed unexpectedly"))
	require.Equal(t, CategoryCrash, c3.Category)
	require.False(t, c3.IsRetryable)
}

func TestValidateFillsScrollDefault(t *testing.T) {
	cmd := Command{Action: ActionScroll}
	require.NoError(t, Validate(&cmd))
	require.Equal(t, "down", cmd.Scroll.Direction)
}

func TestValidateRejectsMissingRequiredFields(t *testing.T) {
	cmd := Command{Action: ActionNavigate}
	err := Validate(&cmd)
	require.Error(t, err)
	var sv *SchemaViolationError
	require.ErrorAs(t, err, &sv)
}

func TestDomainPolicyWildcardSubdomain(t *testing.T) {
	p := DomainPolicy{Allowed: []string{"*.example.com"}}
	require.True(t, p.Allowed("https://foo.example.com/path"))
	require.True(t, p.Allowed("https://example.com/path"))
	require.False(t, p.Allowed("https://example.net/path"))
}

func TestDomainPolicyBareDomainCoversSubdomainsViaRegistrableDomain(t *testing.T) {
	p := DomainPolicy{Allowed: []string{"example.com"}}
	require.True(t, p.Allowed("https://example.com/path"))
	require.True(t, p.Allowed("https://checkout.example.com/cart"))
	require.False(t, p.Allowed("https://other.org/path"))
}
