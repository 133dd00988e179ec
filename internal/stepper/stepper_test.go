package stepper

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ntegrals/openbrowser/internal/commands"
	"github.com/ntegrals/openbrowser/internal/config"
	"github.com/ntegrals/openbrowser/internal/conversation"
	"github.com/ntegrals/openbrowser/internal/llm"
	"github.com/ntegrals/openbrowser/internal/stalldetector"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	responses []llm.Message
	calls     int
}

func (p *scriptedProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	if p.calls >= len(p.responses) {
		return llm.Message{Role: "assistant", Content: "done"}, nil
	}
	r := p.responses[p.calls]
	p.calls++
	return r, nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}

type fakeStepBrowser struct{ clicks int }

func (f *fakeStepBrowser) CurrentURL() string { return "https://example.com" }
func (f *fakeStepBrowser) Navigate(ctx context.Context, url string) error { return nil }
func (f *fakeStepBrowser) Back(ctx context.Context) error                { return nil }
func (f *fakeStepBrowser) State(ctx context.Context) (commands.PageState, error) {
	return commands.PageState{URL: "https://example.com", Title: "Example", VisibleText: "hi"}, nil
}
func (f *fakeStepBrowser) Screenshot(ctx context.Context) ([]byte, error) { return nil, nil }
func (f *fakeStepBrowser) Click(ctx context.Context, index int) error {
	f.clicks++
	return nil
}
func (f *fakeStepBrowser) TypeText(ctx context.Context, index int, text string, clearFirst bool) error {
	return nil
}
func (f *fakeStepBrowser) PressKeys(ctx context.Context, keys string) error               { return nil }
func (f *fakeStepBrowser) Scroll(ctx context.Context, direction string, index *int) error { return nil }
func (f *fakeStepBrowser) ScrollToText(ctx context.Context, text string) error            { return nil }
func (f *fakeStepBrowser) Select(ctx context.Context, index int, value string) error      { return nil }
func (f *fakeStepBrowser) Upload(ctx context.Context, index int, path string) error       { return nil }
func (f *fakeStepBrowser) Extract(ctx context.Context, query string) (string, error)      { return "", nil }
func (f *fakeStepBrowser) ExtractStructured(ctx context.Context, schema map[string]any) (string, error) {
	return "", nil
}
func (f *fakeStepBrowser) Find(ctx context.Context, query string) (string, error) { return "", nil }
func (f *fakeStepBrowser) ListOptions(ctx context.Context, index int) ([]string, error) {
	return nil, nil
}
func (f *fakeStepBrowser) Search(ctx context.Context, query string) (string, error)    { return "", nil }
func (f *fakeStepBrowser) WebSearch(ctx context.Context, query string) (string, error) { return "", nil }
func (f *fakeStepBrowser) FocusTab(ctx context.Context, index int) error               { return nil }
func (f *fakeStepBrowser) NewTab(ctx context.Context, url string) (int, error)         { return 0, nil }
func (f *fakeStepBrowser) CloseTab(ctx context.Context, index *int) error              { return nil }
func (f *fakeStepBrowser) Wait(ctx context.Context, ms int) error                      { return nil }

func toolCall(action commands.Action, params any) llm.ToolCall {
	b, _ := json.Marshal(params)
	return llm.ToolCall{Name: string(action), Args: b, ID: "1"}
}

func newTestStepper(provider llm.Provider, browser commands.Browser) *Stepper {
	conv := conversation.New(0, conversation.SummaryPolicy{}, nil)
	catalog := commands.NewCatalog()
	ec := &commands.ExecutionContext{Browser: browser, Policy: commands.DomainPolicy{}}
	executor := commands.NewExecutor(catalog, ec)
	detector := stalldetector.New(stalldetector.Config{WindowSize: 10, MaxRepeatedActions: 3, MaxRepeatedFingerprints: 3, MaxStagnantPages: 5})
	cfg := config.StepLoopConfig{MaxSteps: 10, CommandsPerStep: 10, FailureThreshold: 3}
	return New(cfg, "test-model", provider, conv, catalog, executor, detector, browser, "test task", Hooks{})
}

func TestRunFinishesWhenModelReturnsNoToolCalls(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Message{{Role: "assistant", Content: "the answer is 42"}}}
	s := newTestStepper(provider, &fakeStepBrowser{})
	outcome, err := s.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, TerminationFinished, outcome.Reason)
	require.Equal(t, "the answer is 42", outcome.FinalText)
}

func TestRunFinishesOnFinishCommand(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Message{
		{Role: "assistant", Content: "", ToolCalls: []llm.ToolCall{toolCall(commands.ActionFinish, commands.FinishParams{Text: "all done"})}},
	}}
	fb := &fakeStepBrowser{}
	s := newTestStepper(provider, fb)
	outcome, err := s.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, TerminationFinished, outcome.Reason)
	require.Equal(t, "all done", outcome.FinalText)
}

func TestRunDispatchesTapToBrowser(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Message{
		{Role: "assistant", ToolCalls: []llm.ToolCall{toolCall(commands.ActionTap, commands.TapParams{Index: 2})}},
		{Role: "assistant", Content: "clicked"},
	}}
	fb := &fakeStepBrowser{}
	s := newTestStepper(provider, fb)
	outcome, err := s.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, fb.clicks)
	require.Equal(t, TerminationFinished, outcome.Reason)
	require.Equal(t, "clicked", outcome.FinalText)
}

func TestRunStopsAtStepLimit(t *testing.T) {
	loop := llm.ToolCall{Name: string(commands.ActionTap), Args: mustJSON(commands.TapParams{Index: 0}), ID: "x"}
	responses := make([]llm.Message, 0, 20)
	for i := 0; i < 20; i++ {
		responses = append(responses, llm.Message{Role: "assistant", ToolCalls: []llm.ToolCall{loop}})
	}
	provider := &scriptedProvider{responses: responses}
	fb := &fakeStepBrowser{}
	s := newTestStepper(provider, fb)
	outcome, err := s.Run(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, TerminationStepLimit, outcome.Reason)
	require.Equal(t, 3, outcome.Steps)
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
