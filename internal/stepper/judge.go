package stepper

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ntegrals/openbrowser/internal/conversation"
	"github.com/ntegrals/openbrowser/internal/llm"
)

// SimpleJudgement is the lightweight check the Step Loop runs immediately
// after a command reports isDone (§4.1 step 14): a single model call asking
// whether the claimed result actually satisfies the task, rather than
// trusting the done flag outright.
type SimpleJudgement struct {
	Complete  bool   `json:"complete"`
	Reasoning string `json:"reasoning"`
}

// Judgement is the fuller assessment attached to the final Outcome (§3
// "RunOutcome.judgement"): a coarse verdict plus reasoning, produced with
// the same one-shot-JSON-with-fallback idiom as conversation.Manager's
// CompactWithLLM.
type Judgement struct {
	Verdict   string `json:"verdict"` // "success" | "failure" | "uncertain"
	Reasoning string `json:"reasoning"`
}

// DiagnosisResult is the fixed shape the one-shot diagnostic call returns
// when the consecutive-failure threshold is hit (§4.1 "Failure policy").
type DiagnosisResult struct {
	Diagnosis  string `json:"diagnosis"`
	Suggestion string `json:"suggestion"`
}

// judgeIsDone asks the model whether resultText genuinely satisfies task,
// tolerating a non-JSON reply by falling back to keyword sniffing, the same
// fallback shape CompactWithLLM uses for its summary response.
func judgeIsDone(ctx context.Context, provider llm.Provider, model, task, resultText string) SimpleJudgement {
	prompt := []llm.Message{
		{Role: conversation.RoleSystem, Content: "You are a terse verifier for a browser automation agent. Given a task and a claimed final result, answer ONLY with JSON {\"complete\": bool, \"reasoning\": string} saying whether the result actually satisfies the task."},
		{Role: conversation.RoleUser, Content: "Task: " + task + "\nClaimed result: " + resultText},
	}
	resp, err := provider.Chat(ctx, prompt, nil, model)
	if err != nil {
		// Model unavailable: trust the done flag that triggered this check
		// rather than failing the run over an unrelated verifier outage.
		return SimpleJudgement{Complete: true, Reasoning: "judge call failed: " + err.Error()}
	}
	var sj SimpleJudgement
	if jerr := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &sj); jerr != nil {
		lower := strings.ToLower(resp.Content)
		sj.Complete = !strings.Contains(lower, "incomplete") && !strings.Contains(lower, "not complete") && !strings.Contains(lower, "does not satisfy")
		sj.Reasoning = strings.TrimSpace(resp.Content)
	}
	return sj
}

// finalJudgement produces the fuller post-run assessment (§3 RunOutcome.
// judgement) from the run's last result and the simple judge's verdict.
func finalJudgement(ctx context.Context, provider llm.Provider, model, task, resultText string, simple SimpleJudgement) *Judgement {
	prompt := []llm.Message{
		{Role: conversation.RoleSystem, Content: "Assess a finished browser automation run. Answer ONLY with JSON {\"verdict\": \"success\"|\"failure\"|\"uncertain\", \"reasoning\": string}."},
		{Role: conversation.RoleUser, Content: "Task: " + task + "\nFinal result: " + resultText + "\nQuick verifier said complete=" + boolString(simple.Complete) + " (" + simple.Reasoning + ")"},
	}
	resp, err := provider.Chat(ctx, prompt, nil, model)
	if err != nil {
		return nil
	}
	var j Judgement
	if jerr := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &j); jerr != nil || j.Verdict == "" {
		return nil
	}
	return &j
}

// diagnose runs the one-shot diagnostic call on the failure threshold
// (§4.1 "Failure policy"), using cfg.DiagnosticModel when set, falling back
// to the run's main model. Returns the zero value on any failure — the
// caller treats that as "no diagnosis available" rather than an error.
func diagnose(ctx context.Context, provider llm.Provider, model, task string, errs []string) DiagnosisResult {
	prompt := []llm.Message{
		{Role: conversation.RoleSystem, Content: "You diagnose why a browser automation run is failing repeatedly. Answer ONLY with JSON {\"diagnosis\": string, \"suggestion\": string}."},
		{Role: conversation.RoleUser, Content: "Task: " + task + "\nRecent errors:\n" + strings.Join(errs, "\n")},
	}
	resp, err := provider.Chat(ctx, prompt, nil, model)
	if err != nil {
		return DiagnosisResult{}
	}
	var d DiagnosisResult
	if jerr := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &d); jerr != nil {
		d.Diagnosis = strings.TrimSpace(resp.Content)
	}
	return d
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
