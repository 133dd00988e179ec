// Package stalldetector implements the Stall Detector (spec §4.3): it
// fingerprints each executed action and each resulting page state, looks
// for repetition and short cycles, and escalates with increasingly
// insistent nudge messages so the model collaborator notices it is looping
// before the Step Loop gives up entirely.
package stalldetector

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/ntegrals/openbrowser/internal/commands"
)

// Config tunes the detector's thresholds (mirrors config.StallConfig).
type Config struct {
	WindowSize              int
	MaxRepeatedActions      int
	MaxRepeatedFingerprints int
	MaxStagnantPages        int
}

func defaultConfig() Config {
	return Config{WindowSize: 10, MaxRepeatedActions: 3, MaxRepeatedFingerprints: 3, MaxStagnantPages: 5}
}

// PageSignature is the minimal page-state shape the detector hashes; it
// mirrors commands.PageState but is declared independently so this package
// never needs to import the browser contract beyond what it fingerprints.
type PageSignature struct {
	URL          string
	DOMHash      string
	ScrollY      int
	ElementCount int
	TextHash     string
}

// Verdict is the result of isStuck(): whether the session looks stalled,
// how severe, and an optional message to inject into the conversation.
type Verdict struct {
	Stuck            bool
	Severity         int // 0 .. 3 (severe); a stuck verdict is 0 below 5 total repetitions
	Reason           string
	TotalRepetitions int
	NudgeMessage     string
}

// StalledError reports a severity-3 stall: the run is no longer making
// progress and the Step Loop must abort rather than keep nudging (§4.1 step
// 4, §7.4). Severity mirrors Verdict.Severity at the point of abort.
type StalledError struct {
	Severity int
	Reason   string
}

func (e *StalledError) Error() string {
	return fmt.Sprintf("stalled (severity %d): %s", e.Severity, e.Reason)
}

// pageRecord pairs a page's opaque fingerprint with the fields check 5 needs
// to compare for near-identity (URL and element count) rather than byte
// equality.
type pageRecord struct {
	Hash         string
	URL          string
	ElementCount int
}

// Detector holds the bounded history of fingerprints and signatures.
type Detector struct {
	cfg              Config
	actions          []string
	signatures       []string
	pages            []pageRecord
	totalRepetitions int
}

func New(cfg Config) *Detector {
	if cfg.WindowSize <= 0 {
		cfg = defaultConfig()
	}
	return &Detector{cfg: cfg}
}

func (d *Detector) capacity() int {
	if d.cfg.WindowSize <= 0 {
		return 20
	}
	return d.cfg.WindowSize * 2
}

// Windows returns the detector's current bounded action/signature history,
// for a caller that persists it across process restarts (internal/cache.
// FingerprintStore).
func (d *Detector) Windows() (actions, signatures []string) {
	return append([]string(nil), d.actions...), append([]string(nil), d.signatures...)
}

// Restore replaces the detector's action/signature history with previously
// persisted windows, capped to this detector's own capacity. Intended to
// run once, right after New, before any RecordAction/RecordPage call.
func (d *Detector) Restore(actions, signatures []string) {
	cap := d.capacity()
	if len(actions) > cap {
		actions = actions[len(actions)-cap:]
	}
	if len(signatures) > cap {
		signatures = signatures[len(signatures)-cap:]
	}
	d.actions = append([]string(nil), actions...)
	d.signatures = append([]string(nil), signatures...)
	// Restored entries carry no URL/elementCount (the persisted form is the
	// opaque hash only), so they never qualify as near-identical to a
	// freshly recorded page under check 5's tolerance comparison.
	d.pages = make([]pageRecord, len(signatures))
	for i, h := range signatures {
		d.pages[i] = pageRecord{Hash: h}
	}
}

// RecordAction fingerprints cmd and appends it to the bounded action
// history, evicting the oldest entry once the window is full.
func (d *Detector) RecordAction(cmd commands.Command) {
	fp := FingerprintAction(cmd)
	d.actions = append(d.actions, fp)
	if len(d.actions) > d.capacity() {
		d.actions = d.actions[len(d.actions)-d.capacity():]
	}
}

// RecordPage fingerprints a resulting page signature and appends it to the
// bounded signature history.
func (d *Detector) RecordPage(sig PageSignature) {
	h := FingerprintPage(sig)
	d.signatures = append(d.signatures, h)
	if len(d.signatures) > d.capacity() {
		d.signatures = d.signatures[len(d.signatures)-d.capacity():]
	}
	d.pages = append(d.pages, pageRecord{Hash: h, URL: sig.URL, ElementCount: sig.ElementCount})
	if len(d.pages) > d.capacity() {
		d.pages = d.pages[len(d.pages)-d.capacity():]
	}
}

// FingerprintAction renders cmd into the per-action fingerprint string
// (§4.3 "fingerprinting rules").
func FingerprintAction(cmd commands.Command) string {
	switch cmd.Action {
	case commands.ActionTap:
		if cmd.Tap != nil {
			return fmt.Sprintf("click:%d", cmd.Tap.Index)
		}
	case commands.ActionTypeText:
		if cmd.TypeText != nil {
			return fmt.Sprintf("input_text:%d:%s", cmd.TypeText.Index, cmd.TypeText.Text)
		}
	case commands.ActionNavigate:
		if cmd.Navigate != nil {
			return "go_to_url:" + cmd.Navigate.URL
		}
	case commands.ActionWebSearch:
		if cmd.WebSearch != nil {
			return "search_google:" + normalizeQuery(cmd.WebSearch.Query)
		}
	case commands.ActionSearch:
		if cmd.Search != nil {
			return "search_page:" + normalizeQuery(cmd.Search.Query)
		}
	case commands.ActionScroll:
		if cmd.Scroll != nil {
			target := "page"
			if cmd.Scroll.Index != nil {
				target = fmt.Sprintf("%d", *cmd.Scroll.Index)
			}
			return fmt.Sprintf("scroll:%s:%s", cmd.Scroll.Direction, target)
		}
	case commands.ActionFinish:
		text := ""
		if cmd.Finish != nil {
			text = cmd.Finish.Text
		}
		if len(text) > 50 {
			text = text[:50]
		}
		return "done:" + text
	}
	// Structural fallback for every other variant: serialize whichever
	// params pointer is non-nil so distinct params still fingerprint
	// distinctly without a dedicated rule.
	return fmt.Sprintf("%s:%+v", cmd.Action, nonNilParams(cmd))
}

func nonNilParams(cmd commands.Command) any {
	switch {
	case cmd.PressKeys != nil:
		return *cmd.PressKeys
	case cmd.Extract != nil:
		return *cmd.Extract
	case cmd.FocusTab != nil:
		return *cmd.FocusTab
	case cmd.NewTab != nil:
		return *cmd.NewTab
	case cmd.CloseTab != nil:
		return *cmd.CloseTab
	case cmd.Upload != nil:
		return *cmd.Upload
	case cmd.Select != nil:
		return *cmd.Select
	case cmd.ReadPage != nil:
		return *cmd.ReadPage
	case cmd.Wait != nil:
		return *cmd.Wait
	case cmd.ScrollTo != nil:
		return *cmd.ScrollTo
	case cmd.Find != nil:
		return *cmd.Find
	case cmd.ListOptions != nil:
		return *cmd.ListOptions
	case cmd.PickOption != nil:
		return *cmd.PickOption
	case cmd.ExtractStructured != nil:
		return *cmd.ExtractStructured
	default:
		return string(cmd.Raw)
	}
}

// normalizeQuery lowercases, splits on whitespace, drops empty tokens, sorts
// them, and rejoins with single spaces, so "foo bar" and "bar   foo" and
// "FOO BAR" fingerprint identically (§4.3 scenario 4, search-query order
// invariance).
func normalizeQuery(q string) string {
	fields := strings.Fields(strings.ToLower(q))
	sort.Strings(fields)
	return strings.Join(fields, " ")
}

// FingerprintPage renders a page signature into the detector's hash string:
// url | domHash | scrollBucket | elementCount | textHash (§4.3).
func FingerprintPage(sig PageSignature) string {
	bucket := sig.ScrollY / 200
	elementPart := ""
	if sig.ElementCount > 0 {
		elementPart = fmt.Sprintf("e:%d", sig.ElementCount)
	}
	textPart := ""
	if sig.TextHash != "" {
		textPart = "t:" + sig.TextHash
	}
	return strings.Join(filterEmpty([]string{
		sig.URL,
		sig.DOMHash,
		fmt.Sprintf("%d", bucket),
		elementPart,
		textPart,
	}), " | ")
}

func filterEmpty(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// HashText is a small helper for callers building a PageSignature.TextHash
// from raw visible-text content.
func HashText(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

// IsStuck runs the detector's five ordered checks against the current
// history (§4.3 "isStuck detection"):
//  1. a trailing run of >= MaxRepeatedActions identical actions
//  2. an ABAB cycle over the last 4 actions
//  3. an ABCABC cycle over the last 6 actions
//  4. a trailing run of >= MaxRepeatedFingerprints identical page signatures
//  5. >= MaxStagnantPages consecutive stagnant (near-identical) page states
func (d *Detector) IsStuck() Verdict {
	if run, ok := trailingRun(d.actions, d.cfg.MaxRepeatedActions); ok {
		d.totalRepetitions += run
		return d.stuckVerdict(fmt.Sprintf("repeated the same action %d times in a row", run))
	}
	if cycleABAB(d.actions) {
		d.totalRepetitions += 4
		return d.stuckVerdict("cycling between two actions (A-B-A-B)")
	}
	if cycleABCABC(d.actions) {
		d.totalRepetitions += 6
		return d.stuckVerdict("cycling through the same three actions (A-B-C-A-B-C)")
	}
	if run, ok := trailingRun(d.signatures, d.cfg.MaxRepeatedFingerprints); ok {
		d.totalRepetitions += run
		return d.stuckVerdict(fmt.Sprintf("page state hasn't changed across %d actions", run))
	}
	if run := trailingStagnantPages(d.pages, d.cfg.MaxStagnantPages); run >= d.cfg.MaxStagnantPages {
		d.totalRepetitions += run
		return d.stuckVerdict(fmt.Sprintf("%d consecutive pages look the same", run))
	}
	return Verdict{Stuck: false, Severity: 0, TotalRepetitions: d.totalRepetitions}
}

func (d *Detector) stuckVerdict(reason string) Verdict {
	sev := severityFor(d.totalRepetitions)
	return Verdict{
		Stuck:            true,
		Severity:         sev,
		Reason:           reason,
		TotalRepetitions: d.totalRepetitions,
		NudgeMessage:     getLoopNudgeMessage(sev, reason),
	}
}

func severityFor(totalRepetitions int) int {
	switch {
	case totalRepetitions >= 12:
		return 3
	case totalRepetitions >= 8:
		return 2
	case totalRepetitions >= 5:
		return 1
	default:
		return 0
	}
}

// getLoopNudgeMessage picks the escalation text for severity (§4.3
// "escalation"): increasingly direct as repetition accumulates.
func getLoopNudgeMessage(severity int, reason string) string {
	switch severity {
	case 1:
		return "You may be repeating yourself (" + reason + "). Consider trying a different approach."
	case 2:
		return "You appear to be stuck in a loop (" + reason + "). Stop repeating this action and try something substantially different, or reconsider the current strategy."
	case 3:
		return "You are clearly stuck (" + reason + "). Do not repeat this action again. Step back, reassess the page, and either try a completely different path or finish with your best available answer."
	default:
		return ""
	}
}

func trailingRun(seq []string, min int) (int, bool) {
	if min <= 0 || len(seq) < min {
		return 0, false
	}
	last := seq[len(seq)-1]
	run := 1
	for i := len(seq) - 2; i >= 0 && seq[i] == last; i-- {
		run++
	}
	return run, run >= min
}

func cycleABAB(seq []string) bool {
	if len(seq) < 4 {
		return false
	}
	n := len(seq)
	a, b := seq[n-4], seq[n-3]
	return a != b && seq[n-2] == a && seq[n-1] == b
}

func cycleABCABC(seq []string) bool {
	if len(seq) < 6 {
		return false
	}
	n := len(seq)
	a, b, c := seq[n-6], seq[n-5], seq[n-4]
	if a == b && b == c {
		return false
	}
	return seq[n-3] == a && seq[n-2] == b && seq[n-1] == c
}

// trailingStagnantPages counts a trailing run of pages whose URL matches the
// current page's URL exactly and whose element count falls within
// max(10, 5%) of it, treating near-identical (not just byte-identical)
// states as stagnant — distinct from check 4's exact hash equality.
func trailingStagnantPages(pages []pageRecord, maxWanted int) int {
	if len(pages) == 0 {
		return 0
	}
	last := pages[len(pages)-1]
	run := 1
	for i := len(pages) - 2; i >= 0 && run < maxWanted; i-- {
		if !nearIdenticalPage(pages[i], last) {
			break
		}
		run++
	}
	return run
}

// nearIdenticalPage reports whether a and b share the same URL and whether
// their element counts agree within the larger of 10 elements or 5% of b's
// count (§4.3 check 5).
func nearIdenticalPage(a, b pageRecord) bool {
	if a.URL == "" || a.URL != b.URL {
		return false
	}
	tolerance := b.ElementCount * 5 / 100
	if tolerance < 10 {
		tolerance = 10
	}
	diff := a.ElementCount - b.ElementCount
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
