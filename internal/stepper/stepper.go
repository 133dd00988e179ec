// Package stepper implements the Step Loop (spec §4.1): the scheduler that
// drives observe -> decide -> act -> record cycles against a model
// collaborator, a browser collaborator (via internal/commands), a bounded
// conversation (internal/conversation), and a stall detector
// (internal/stalldetector), applying retry/timeout/termination policy
// around each step. Grounded on the teacher's internal/agent/engine.go
// Engine.runLoop, generalized from a generic tool-calling ReAct loop to the
// spec's browser/command/stall-detector-driven control flow.
package stepper

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ntegrals/openbrowser/internal/commands"
	"github.com/ntegrals/openbrowser/internal/config"
	"github.com/ntegrals/openbrowser/internal/conversation"
	"github.com/ntegrals/openbrowser/internal/llm"
	"github.com/ntegrals/openbrowser/internal/observability"
	"github.com/ntegrals/openbrowser/internal/stalldetector"
)

// TerminationReason explains why Run stopped (§4.1 "termination").
type TerminationReason string

const (
	TerminationFinished     TerminationReason = "finished"
	TerminationStepLimit    TerminationReason = "step_limit_exceeded"
	TerminationFailures     TerminationReason = "consecutive_failure_threshold"
	TerminationCanceled     TerminationReason = "canceled"
	TerminationStallAborted TerminationReason = "stall_aborted"
)

// TimeoutError reports a step or model-call deadline expiring (§7.3).
// Scope is "step" or "model".
type TimeoutError struct{ Scope string }

func (e *TimeoutError) Error() string { return "timeout: " + e.Scope }

// Outcome is the Step Loop's final report (§3 "RunOutcome").
type Outcome struct {
	Reason      TerminationReason
	Steps       int
	FinalText   string
	Success     bool
	LastResults []commands.Result

	// Errors collects every decide-phase error string encountered this run,
	// most recent last (§3 RunOutcome.errors).
	Errors []string
	// TotalCost is the heuristic-token-based sum of every model call's cost
	// this run, via the pricing table (§8 "Cost").
	TotalCost float64
	// History is the rendered ConversationManager.HistoryDescription at
	// termination (§3 RunOutcome.history).
	History string
	// Judgement is the fuller post-run assessment; nil unless Reason is
	// TerminationFinished.
	Judgement *Judgement
	// SimpleJudgement is the isDone-time quick verifier's verdict (§4.1 step
	// 14); nil unless Reason is TerminationFinished.
	SimpleJudgement *SimpleJudgement
}

// Hooks lets callers observe each step without the loop depending on any
// particular UI/telemetry sink (mirrors the teacher's OnAssistant/OnTool/
// OnTurnMessage callback set on Engine).
type Hooks struct {
	OnStepStart    func(step int)
	OnModelMessage func(step int, msg llm.Message)
	OnCommand      func(step int, cmd commands.Command, res commands.Result)
	OnStall        func(step int, verdict stalldetector.Verdict)
	OnError        func(step int, err error)
}

// Stepper wires the Step Loop's collaborators together.
type Stepper struct {
	cfg          config.StepLoopConfig
	model        string
	provider     llm.Provider
	conversation *conversation.Manager
	catalog      *commands.Catalog
	executor     *commands.Executor
	detector     *stalldetector.Detector
	browser      commands.Browser
	task         string
	hooks        Hooks

	pricing []modelPricing

	preflightDone bool
	totalCost     float64
	lastSeverity  int
	plan          string
	lastPlanStep  int

	paused  atomic.Bool
	stopped atomic.Bool
}

func New(
	cfg config.StepLoopConfig,
	model string,
	provider llm.Provider,
	conv *conversation.Manager,
	catalog *commands.Catalog,
	executor *commands.Executor,
	detector *stalldetector.Detector,
	browser commands.Browser,
	task string,
	hooks Hooks,
) *Stepper {
	return &Stepper{
		cfg:          cfg,
		model:        model,
		provider:     provider,
		conversation: conv,
		catalog:      catalog,
		executor:     executor,
		detector:     detector,
		browser:      browser,
		task:         task,
		hooks:        hooks,
		pricing:      loadPricingTable(cfg.PricingTablePath),
	}
}

// Pause idles the loop at the top of the next iteration until Resume is
// called (§5 "isPaused"). Safe to call from another goroutine.
func (s *Stepper) Pause() { s.paused.Store(true) }

// Resume cancels a prior Pause.
func (s *Stepper) Resume() { s.paused.Store(false) }

// Stop requests a graceful termination after the current step finishes
// (§5 "isRunning=false"). Safe to call from another goroutine.
func (s *Stepper) Stop() { s.stopped.Store(true) }

// Run executes the step loop until termination (§4.1). stepLimit, if > 0 and
// smaller than cfg.MaxSteps, replaces it for this run (e.g. the Sandbox Supervisor capping
// an individual run shorter than the configured default).
func (s *Stepper) Run(ctx context.Context, stepLimit int) (Outcome, error) {
	maxSteps := s.cfg.MaxSteps
	if stepLimit > 0 && stepLimit < maxSteps {
		maxSteps = stepLimit
	}
	if maxSteps <= 0 {
		maxSteps = 50
	}

	log := observability.LoggerWithTrace(ctx)
	consecutiveFailures := 0
	s.totalCost = 0
	var runErrors []string

	if !s.preflightDone {
		s.preflight(ctx)
		s.preflightDone = true
		if strings.TrimSpace(s.task) != "" {
			s.conversation.AddUserMessage(s.task)
		}
	}

	for step := 0; step < maxSteps; step++ {
		if outcome, stop := s.waitWhilePaused(ctx, step, runErrors); stop {
			return outcome, ctx.Err()
		}
		if s.stopped.Load() {
			return Outcome{Reason: TerminationCanceled, Steps: step, Errors: runErrors, TotalCost: s.totalCost, History: s.conversation.HistoryDescription(20)}, nil
		}
		if err := ctx.Err(); err != nil {
			return Outcome{Reason: TerminationCanceled, Steps: step, Errors: runErrors, TotalCost: s.totalCost}, err
		}

		stepCtx := ctx
		var cancelStep context.CancelFunc
		if s.cfg.StepDeadlineMs > 0 {
			stepCtx, cancelStep = context.WithTimeout(ctx, time.Duration(s.cfg.StepDeadlineMs)*time.Millisecond)
		}

		s.conversation.SetStep(step)
		if s.hooks.OnStepStart != nil {
			s.hooks.OnStepStart(step)
		}

		s.maybeReplan(stepCtx, step)

		if err := s.observe(stepCtx, step); err != nil {
			log.Warn().Err(err).Int("step", step).Msg("stepper_observe_failed")
		}

		mode := s.selectOutputMode()
		if instr := modeInstruction(mode); instr != "" {
			s.conversation.AddEphemeralMessage(instr, conversation.RoleUser)
		}

		msg, cmds, err := s.decideWithRecovery(stepCtx, step)
		if err == nil && stepCtx.Err() != nil {
			err = &TimeoutError{Scope: "step"}
		}
		if err != nil {
			if cancelStep != nil {
				cancelStep()
			}
			consecutiveFailures++
			runErrors = append(runErrors, err.Error())
			if s.hooks.OnError != nil {
				s.hooks.OnError(step, err)
			}
			if isThrottled(err) {
				s.sleepForRetry(ctx)
				continue
			}
			if consecutiveFailures >= failureThreshold(s.cfg) {
				diag := diagnose(ctx, s.provider, diagnosticModel(s.cfg, s.model), s.task, runErrors)
				finalText := strings.TrimSpace(diag.Diagnosis + "\n" + diag.Suggestion)
				return Outcome{
					Reason:    TerminationFailures,
					Steps:     step + 1,
					FinalText: finalText,
					Errors:    runErrors,
					TotalCost: s.totalCost,
					History:   s.conversation.HistoryDescription(20),
				}, err
			}
			s.sleepForRetry(ctx)
			continue
		}
		consecutiveFailures = 0

		if s.hooks.OnModelMessage != nil {
			s.hooks.OnModelMessage(step, msg)
		}
		s.conversation.AddAssistantMessage(msg.Content)

		if len(cmds) == 0 {
			if cancelStep != nil {
				cancelStep()
			}
			// No tool calls: treat the assistant's text as the final answer,
			// matching the teacher engine's "len(msg.ToolCalls) == 0 -> final".
			outcome := Outcome{Reason: TerminationFinished, Steps: step + 1, FinalText: msg.Content, Success: true, Errors: runErrors, TotalCost: s.totalCost}
			return s.finish(ctx, outcome), nil
		}

		results := s.act(stepCtx, step, cmds)
		if cancelStep != nil {
			cancelStep()
		}

		if done, outcome := s.checkTermination(step, results); done {
			outcome.Errors = runErrors
			outcome.TotalCost = s.totalCost
			return s.finish(ctx, outcome), nil
		}

		if stallErr := s.recordStall(ctx, step); stallErr != nil {
			runErrors = append(runErrors, stallErr.Error())
			return Outcome{
				Reason:    TerminationStallAborted,
				Steps:     step + 1,
				LastResults: results,
				Errors:    runErrors,
				TotalCost: s.totalCost,
				History:   s.conversation.HistoryDescription(20),
			}, stallErr
		}

		if s.conversation.ShouldCompactWithLLM() {
			s.conversation.CompactWithLLM(ctx, s.model)
		}
	}

	return Outcome{
		Reason:    TerminationStepLimit,
		Steps:     maxSteps,
		Errors:    runErrors,
		TotalCost: s.totalCost,
		History:   s.conversation.HistoryDescription(20),
	}, nil
}

// waitWhilePaused blocks at 100ms polls while Pause is in effect (§5
// "isPaused"), returning early (stop=true) if ctx is canceled while idle.
func (s *Stepper) waitWhilePaused(ctx context.Context, step int, runErrors []string) (Outcome, bool) {
	for s.paused.Load() {
		select {
		case <-ctx.Done():
			return Outcome{Reason: TerminationCanceled, Steps: step, Errors: runErrors, TotalCost: s.totalCost}, true
		case <-time.After(100 * time.Millisecond):
		}
	}
	return Outcome{}, false
}

// finish runs the simple judge on isDone (§4.1 step 14) and attaches the
// fuller post-run Judgement plus the rendered history, for any Outcome
// whose Reason is TerminationFinished.
func (s *Stepper) finish(ctx context.Context, outcome Outcome) Outcome {
	outcome.History = s.conversation.HistoryDescription(20)
	if outcome.Reason != TerminationFinished {
		return outcome
	}
	simple := judgeIsDone(ctx, s.provider, s.model, s.task, outcome.FinalText)
	outcome.SimpleJudgement = &simple
	if !simple.Complete {
		outcome.Success = false
	}
	outcome.Judgement = finalJudgement(ctx, s.provider, s.model, s.task, outcome.FinalText, simple)
	return outcome
}

// observe appends the current browser state as a State message (§4.1 step
// "observe"); a nil browser (e.g. unit tests driving decide/act directly)
// is a no-op.
func (s *Stepper) observe(ctx context.Context, step int) error {
	if s.browser == nil {
		return nil
	}
	state, err := s.browser.State(ctx)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("URL: %s\nTitle: %s\n%s", state.URL, state.Title, state.VisibleText)
	var shot []byte
	if shot, err = s.browser.Screenshot(ctx); err == nil && len(shot) > 0 {
		s.conversation.AddStateMessage(text, encodeImage(shot), "image/png")
	} else {
		s.conversation.AddStateMessage(text, "", "")
	}
	s.detector.RecordPage(stalldetector.PageSignature{
		URL:          state.URL,
		DOMHash:      state.DOMHash,
		ScrollY:      state.ScrollY,
		ElementCount: state.ElementCount,
		TextHash:     stalldetector.HashText(state.VisibleText),
	})
	return nil
}

// outputMode selects which decision-schema guidance to prepend before
// calling the model (§4.1 step 6): "deep_reasoning" asks the model to think
// through a stall explicitly, "compact" keeps responses terse once the
// conversation is near its compaction target, "standard" is the default.
type outputMode string

const (
	modeStandard      outputMode = "standard"
	modeCompact       outputMode = "compact"
	modeDeepReasoning outputMode = "deep_reasoning"
)

func (s *Stepper) selectOutputMode() outputMode {
	switch {
	case s.lastSeverity >= 2:
		return modeDeepReasoning
	case s.conversation.ShouldCompactWithLLM():
		return modeCompact
	default:
		return modeStandard
	}
}

func modeInstruction(mode outputMode) string {
	switch mode {
	case modeCompact:
		return "The conversation is near its context budget. Keep your reasoning and response brief."
	case modeDeepReasoning:
		return "Previous actions haven't made progress. Think step by step about why before choosing your next action, then act."
	default:
		return ""
	}
}

// decide calls the model collaborator with a deadline bounded by
// ModelDeadlineMs (§4.1 "timeouts"), then accrues this call's heuristic
// token cost into s.totalCost (§8 "Cost").
func (s *Stepper) decide(ctx context.Context) (llm.Message, error) {
	callCtx := ctx
	if s.cfg.ModelDeadlineMs > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.ModelDeadlineMs)*time.Millisecond)
		defer cancel()
	}
	msgs := s.conversation.GetMessages()
	schemas := ToolSchemas(s.catalog)
	msg, err := s.provider.Chat(callCtx, msgs, schemas, s.model)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return msg, &TimeoutError{Scope: "model"}
		}
		return msg, err
	}

	inputTokens := llm.EstimateTokensForMessages(msgs)
	outputTokens := llm.EstimateTokens(msg.Content)
	for _, tc := range msg.ToolCalls {
		outputTokens += llm.EstimateTokens(string(tc.Args))
	}
	s.totalCost += stepCost(s.model, inputTokens, outputTokens, s.pricing)
	return msg, nil
}

// decideWithRecovery calls decide and, when the parsed commands fail
// schema validation, re-prompts the model with the violations up to 2
// times before giving up and returning whatever it last parsed (§4.1 step
// 7, "up to 2 re-prompts").
func (s *Stepper) decideWithRecovery(ctx context.Context, step int) (llm.Message, []commands.Command, error) {
	const maxReprompts = 2
	var msg llm.Message
	var err error
	for attempt := 0; ; attempt++ {
		msg, err = s.decide(ctx)
		if err != nil {
			return msg, nil, err
		}
		cmds, parseErr := parseCommands(msg.ToolCalls)
		violations := collectViolations(cmds, parseErr)
		if len(violations) == 0 || attempt >= maxReprompts {
			if len(violations) > 0 {
				observability.LoggerWithTrace(ctx).Warn().Strs("violations", violations).Int("step", step).Msg("stepper_schema_violation_reprompts_exhausted")
			}
			return msg, cmds, nil
		}
		feedback := "Your previous response had invalid command arguments:\n- " + strings.Join(violations, "\n- ") + "\nPlease correct them and respond again."
		s.conversation.AddEphemeralMessage(feedback, conversation.RoleUser)
	}
}

// collectViolations reports the schema violations (and any parse error) in
// cmds without mutating the caller's copy beyond Validate's usual default-
// filling.
func collectViolations(cmds []commands.Command, parseErr error) []string {
	var out []string
	if parseErr != nil {
		out = append(out, parseErr.Error())
	}
	for _, cmd := range cmds {
		c := cmd
		if verr := commands.Validate(&c); verr != nil {
			var sv *commands.SchemaViolationError
			if errors.As(verr, &sv) {
				out = append(out, verr.Error())
			}
		}
	}
	return out
}

// act runs the parsed commands through the executor's sequence cap and
// records each result fingerprint + conversation entry (§4.1 step "act").
func (s *Stepper) act(ctx context.Context, step int, cmds []commands.Command) []commands.Result {
	limit := s.cfg.CommandsPerStep
	results := s.executor.ExecuteSequence(ctx, cmds, limit)
	for i, res := range results {
		cmd := cmds[i]
		s.detector.RecordAction(cmd)
		if s.hooks.OnCommand != nil {
			s.hooks.OnCommand(step, cmd, res)
		}
		s.conversation.AddCommandResultMessage(s.conversation.RedactValues(resultSummary(cmd, res)))
	}
	return results
}

func (s *Stepper) checkTermination(step int, results []commands.Result) (bool, Outcome) {
	for _, res := range results {
		if res.IsDone {
			return true, Outcome{
				Reason:      TerminationFinished,
				Steps:       step + 1,
				FinalText:   res.ExtractedContent,
				Success:     res.Success,
				LastResults: results,
			}
		}
	}
	return false, Outcome{}
}

// recordStall runs the stall detector after each step's actions/pages are
// recorded. A severity-3 verdict is fatal for the run (§4.1 step 4, §7.4):
// it returns a *stalldetector.StalledError rather than nudging further.
// Lower severities inject a nudge as an ephemeral message so it survives
// exactly the next two GetMessages calls (§4.3 "escalation").
func (s *Stepper) recordStall(ctx context.Context, step int) error {
	verdict := s.detector.IsStuck()
	if !verdict.Stuck {
		s.lastSeverity = 0
		return nil
	}
	s.lastSeverity = verdict.Severity
	if s.hooks.OnStall != nil {
		s.hooks.OnStall(step, verdict)
	}
	if verdict.Severity >= 3 {
		return &stalldetector.StalledError{Severity: verdict.Severity, Reason: verdict.Reason}
	}
	if verdict.NudgeMessage != "" {
		s.conversation.AddEphemeralMessage(verdict.NudgeMessage, conversation.RoleUser)
	}
	return nil
}

func (s *Stepper) sleepForRetry(ctx context.Context) {
	delay := time.Duration(s.cfg.RetryDelaySeconds) * time.Second
	if delay <= 0 {
		delay = 2 * time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func failureThreshold(cfg config.StepLoopConfig) int {
	if cfg.FailureThreshold > 0 {
		return cfg.FailureThreshold
	}
	return 5
}

func diagnosticModel(cfg config.StepLoopConfig, fallback string) string {
	if cfg.DiagnosticModel != "" {
		return cfg.DiagnosticModel
	}
	return fallback
}

func parseCommands(toolCalls []llm.ToolCall) ([]commands.Command, error) {
	out := make([]commands.Command, 0, len(toolCalls))
	var firstErr error
	for _, tc := range toolCalls {
		cmd, err := ParseCommand(tc)
		if err != nil && firstErr == nil {
			firstErr = err
			continue
		}
		out = append(out, cmd)
	}
	return out, firstErr
}

func resultSummary(cmd commands.Command, res commands.Result) string {
	if !res.Success {
		return fmt.Sprintf("%s failed: %s", cmd.Action, res.Error)
	}
	if res.ExtractedContent != "" {
		return fmt.Sprintf("%s: %s", cmd.Action, res.ExtractedContent)
	}
	return fmt.Sprintf("%s: ok", cmd.Action)
}

func isThrottled(err error) bool {
	var t *commands.ThrottledError
	return errors.As(err, &t)
}

func encodeImage(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
