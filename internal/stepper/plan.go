package stepper

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ntegrals/openbrowser/internal/commands"
	"github.com/ntegrals/openbrowser/internal/conversation"
	"github.com/ntegrals/openbrowser/internal/llm"
)

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// firstURL returns the first http(s) URL found in text, or "" if none.
func firstURL(text string) string {
	return urlPattern.FindString(text)
}

// preflight runs before step 1 (§4.1 "Preflight"): optionally auto-navigate
// to the first URL mentioned in the task, then run the configured preflight
// commands in order, ignoring individual failures — a misbehaving preflight
// step shouldn't keep the run from starting.
func (s *Stepper) preflight(ctx context.Context) {
	if s.browser != nil && s.cfg.AutoNavigateToURLs {
		if u := firstURL(s.task); u != "" {
			if err := s.browser.Navigate(ctx, u); err != nil {
				log.Warn().Err(err).Str("url", u).Msg("stepper_preflight_navigate_failed")
			}
		}
	}
	for _, action := range s.cfg.PreflightCommands {
		action = strings.TrimSpace(action)
		if action == "" {
			continue
		}
		res := s.executor.Execute(ctx, commands.Command{Action: commands.Action(action)})
		if !res.Success {
			log.Debug().Str("action", action).Str("error", res.Error).Msg("stepper_preflight_command_failed")
		}
	}
}

// maybeReplan implements the planning cadence (§4.1 "Planning cadence"):
// regenerate the running plan every StrategyInterval steps (default 5), or
// immediately after a severity-2+ stall when RestrategizeOnStall is set.
// EnableStrategy gates the whole mechanism off when unset, matching the
// config field it was previously parsed but never read from.
func (s *Stepper) maybeReplan(ctx context.Context, step int) {
	if !s.cfg.EnableStrategy {
		return
	}
	interval := s.cfg.StrategyInterval
	if interval <= 0 {
		interval = 5
	}
	due := step-s.lastPlanStep >= interval
	stallTriggered := s.cfg.RestrategizeOnStall && s.lastSeverity >= 2
	if !due && !stallTriggered {
		return
	}
	plan := replan(ctx, s.provider, s.model, s.task, s.conversation.HistoryDescription(10))
	s.lastPlanStep = step
	if plan == "" {
		return
	}
	s.plan = plan
	s.conversation.AddUserMessage("Updated plan:\n" + plan)
}

// replan asks the model for a short running plan given the task and
// progress so far. Free-text reply, not JSON: a plan is prose, not data the
// loop needs to parse. Returns "" on any failure.
func replan(ctx context.Context, provider llm.Provider, model, task, historySoFar string) string {
	prompt := []llm.Message{
		{Role: conversation.RoleSystem, Content: "You maintain a short running plan (3-5 bullet points) for a browser automation agent performing a task. Reply with ONLY the plan text, no preamble."},
		{Role: conversation.RoleUser, Content: "Task: " + task + "\nProgress so far:\n" + historySoFar},
	}
	resp, err := provider.Chat(ctx, prompt, nil, model)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(resp.Content)
}
