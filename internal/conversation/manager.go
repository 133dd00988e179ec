package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/ntegrals/openbrowser/internal/llm"
	"github.com/ntegrals/openbrowser/internal/observability"
)

// HistoryEntry is the append-only structured record described in spec §3
// ("ConversationEntry"). Never mutated once created.
type HistoryEntry struct {
	Step          int
	Category      Category
	Summary       string // truncated to 120 chars
	Content       string // truncated to 2000 chars
	HasScreenshot bool
}

// SummaryPolicy configures the LLM-assisted compaction cadence (§4.2
// "LLM compaction").
type SummaryPolicy struct {
	Interval      int // steps between runs; <=0 disables
	TargetPercent float64 // default 0.60 of the context window
	Model         string
}

// Manager owns the append-mostly message log for one agent run. Per spec
// §9 "Cyclic ownership", the Agent is its sole owner — no concurrent
// mutation is permitted, but the mutex guards against accidental misuse
// from the sandbox's resource-monitor goroutine reading state concurrently.
type Manager struct {
	mu sync.Mutex

	systemPrompt *string
	messages     []*TrackedMessage
	history      []HistoryEntry
	currentStep  int

	contextWindowTokens int
	summary             SummaryPolicy
	lastCompactionStep  int
	llmProvider         llm.Provider

	sensitive map[string]string // key -> value, for exact-string redaction
}

// New constructs a Manager bounded to contextWindowTokens (§4.2's
// "configured context window"). A zero value disables the budget check
// (getMessages never compacts).
func New(contextWindowTokens int, summary SummaryPolicy, provider llm.Provider) *Manager {
	return &Manager{
		contextWindowTokens: contextWindowTokens,
		summary:             summary,
		llmProvider:         provider,
		sensitive:           map[string]string{},
	}
}

// SetInstructionBuilder replaces the single system message.
func (m *Manager) SetInstructionBuilder(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemPrompt = &text
}

// SetStep advances the step counter the Manager stamps onto new messages
// and uses for history grouping and summarization cadence.
func (m *Manager) SetStep(step int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentStep = step
}

// SetSensitiveValue registers a (key,value) pair for exact-string redaction
// per §4.2 "Sensitive-value redaction".
func (m *Manager) SetSensitiveValue(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(value) == "" {
		return
	}
	m.sensitive[key] = value
}

func (m *Manager) stepPtr() *int {
	s := m.currentStep
	return &s
}

func (m *Manager) append(category Category, compactable bool, msg Message, summary string) *TrackedMessage {
	tm := &TrackedMessage{
		Message:       msg,
		Compactable:   compactable,
		TokenEstimate: estimateTokens(msg),
		Step:          m.stepPtr(),
		Category:      category,
	}
	m.messages = append(m.messages, tm)
	m.history = append(m.history, HistoryEntry{
		Step:          m.currentStep,
		Category:      category,
		Summary:       truncate(summary, 120),
		Content:       truncate(msg.Text, 2000),
		HasScreenshot: msg.hasImage(),
	})
	return tm
}

// AddStateMessage appends the per-step browser-state observation, optionally
// carrying a screenshot image part (§4.1 step 5).
func (m *Manager) AddStateMessage(text string, screenshotB64, screenshotMIME string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := Message{Role: RoleUser}
	if screenshotB64 != "" {
		msg.Parts = []Part{
			{Kind: PartText, Text: text},
			{Kind: PartImage, ImageB64: screenshotB64, ImageMIME: screenshotMIME},
		}
	} else {
		msg.Text = text
	}
	m.append(CategoryState, true, msg, text)
}

// AddAssistantMessage appends the model's serialized decision (§4.1 step 10).
func (m *Manager) AddAssistantMessage(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.append(CategoryAssistant, true, textMessage(RoleAssistant, text), text)
}

// AddCommandResultMessage appends a per-command result summary (§4.1 step 13).
func (m *Manager) AddCommandResultMessage(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.append(CategoryActionResult, true, textMessage(RoleUser, text), text)
}

// AddUserMessage appends an ordinary, non-compactable user message.
func (m *Manager) AddUserMessage(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.append(CategoryUser, false, textMessage(RoleUser, text), text)
}

// AddEphemeralMessage injects a short-lived message visible for exactly the
// next two getMessages calls (§4.2 "Ephemeral lifecycle").
func (m *Manager) AddEphemeralMessage(text, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if role == "" {
		role = RoleUser
	}
	tm := m.append(CategoryUser, false, textMessage(role, text), text)
	tm.Ephemeral = true
	tm.EphemeralRead = false
}

// EstimateTotalTokens returns the sum of all TrackedMessage.TokenEstimate
// values currently held, plus the system prompt when it is a plain string
// (§4.2 "Token estimation").
func (m *Manager) EstimateTotalTokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.estimateTotalTokensLocked()
}

func (m *Manager) estimateTotalTokensLocked() int {
	total := 0
	if m.systemPrompt != nil {
		total += llm.EstimateTokens(*m.systemPrompt)
	}
	for _, tm := range m.messages {
		total += tm.TokenEstimate
	}
	return total
}

// GetMessages returns the request-shaped message list: system first (if
// set), then insertion order; runs basic compaction first if over budget,
// applies sensitive-value redaction, then advances the ephemeral lifecycle.
func (m *Manager) GetMessages() []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.contextWindowTokens > 0 && m.estimateTotalTokensLocked() > m.contextWindowTokens {
		m.basicCompactLocked()
	}

	out := make([]llm.Message, 0, len(m.messages)+1)
	if m.systemPrompt != nil {
		out = append(out, llm.Message{Role: RoleSystem, Content: *m.systemPrompt})
	}
	for _, tm := range m.messages {
		lm := tm.Message.toLLMMessage()
		lm.Content = m.redact(lm.Content)
		out = append(out, lm)
	}

	m.advanceEphemeralLocked()
	return out
}

// advanceEphemeralLocked implements the two-call visibility window: purge
// ephemerals already marked read, then mark the survivors read. The message
// just returned in `out` above therefore appears in this call and exactly
// one more, per spec §9's documented (intentional) ephemeral behaviour.
func (m *Manager) advanceEphemeralLocked() {
	kept := m.messages[:0]
	for _, tm := range m.messages {
		if tm.Ephemeral && tm.EphemeralRead {
			continue
		}
		if tm.Ephemeral {
			tm.EphemeralRead = true
		}
		kept = append(kept, tm)
	}
	m.messages = kept
}

func (m *Manager) redact(text string) string {
	if len(m.sensitive) == 0 {
		return text
	}
	for key, value := range m.sensitive {
		pattern := regexp.QuoteMeta(value)
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		text = re.ReplaceAllString(text, "<"+strings.ToUpper(key)+">")
	}
	return text
}

// RedactValues applies the same exact-string (key,value) redaction the
// Manager uses internally to an arbitrary string, for use by the Command
// Executor on extractedContent/error fields before they re-enter the
// conversation (§4.4 "mask sensitive data").
func (m *Manager) RedactValues(text string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.redact(text)
}

// basicCompactLocked implements §4.2 "Basic compaction (when over budget)".
// Caller must hold m.mu.
func (m *Manager) basicCompactLocked() {
	// Step 1: strip images from every compactable message except the most
	// recent one that has any, walking newest->oldest.
	keptImage := false
	for i := len(m.messages) - 1; i >= 0; i-- {
		tm := m.messages[i]
		if !tm.Compactable || !tm.Message.hasImage() {
			continue
		}
		if !keptImage {
			keptImage = true
			continue
		}
		tm.Message = tm.Message.stripImages()
		tm.TokenEstimate = estimateTokens(tm.Message)
	}

	// Step 2: while still over budget and more than 4 messages remain,
	// replace the oldest compactable message with a summary placeholder.
	// Placeholders already written are skipped so each pass makes progress.
	for m.estimateTotalTokensLocked() > m.contextWindowTokens && len(m.messages) > 4 {
		idx := -1
		for i, tm := range m.messages {
			if tm.Compactable && tm.Category != CategoryCompactionSummary {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		step := 0
		if m.messages[idx].Step != nil {
			step = *m.messages[idx].Step
		}
		placeholder := Message{Role: RoleUser, Text: fmt.Sprintf("[Step %d state omitted to save tokens]", step)}
		m.messages[idx] = &TrackedMessage{
			Message:       placeholder,
			Compactable:   true,
			TokenEstimate: estimateTokens(placeholder),
			Step:          m.messages[idx].Step,
			Category:      CategoryCompactionSummary,
		}
	}
}

// ShouldCompactWithLLM reports whether compactWithLlm's cadence gates
// (interval and token-target) currently allow a run (§4.2).
func (m *Manager) ShouldCompactWithLLM() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shouldCompactWithLLMLocked()
}

func (m *Manager) shouldCompactWithLLMLocked() bool {
	if m.summary.Interval <= 0 || m.llmProvider == nil {
		return false
	}
	if m.currentStep-m.lastCompactionStep < m.summary.Interval {
		return false
	}
	target := m.summary.TargetPercent
	if target <= 0 {
		target = 0.60
	}
	targetTokens := int(float64(m.contextWindowTokens) * target)
	return m.estimateTotalTokensLocked() > targetTokens
}

// compactSummaryResult is the schema the summarization model must return.
type compactSummaryResult struct {
	Summary string `json:"summary"`
}

// CompactWithLLM implements §4.2 "LLM compaction". model overrides the
// policy-configured model when non-empty. Returns false (silently, per
// spec) on any failure.
func (m *Manager) CompactWithLLM(ctx context.Context, model string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.shouldCompactWithLLMLocked() {
		return false
	}
	if model == "" {
		model = m.summary.Model
	}
	if model == "" {
		return false
	}

	keep := len(m.messages) / 2
	if keep > 6 {
		keep = 6
	}
	cut := len(m.messages) - keep
	if cut < 0 {
		cut = 0
	}
	toSummarize := m.messages[:cut]
	recent := m.messages[cut:]
	if len(toSummarize) == 0 {
		return false
	}

	var b strings.Builder
	for _, tm := range toSummarize {
		text := tm.Message.Text
		if text == "" {
			text = tm.Message.toLLMMessage().Content
		}
		if len(text) > 500 {
			text = text[:500]
		}
		fmt.Fprintf(&b, "%s: %s\n", tm.Message.Role, text)
	}

	prompt := []llm.Message{
		{Role: RoleSystem, Content: "Summarize the conversation transcript that follows, concisely."},
		{Role: RoleUser, Content: b.String()},
	}
	resp, err := m.llmProvider.Chat(ctx, prompt, nil, model)
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("conversation_llm_compaction_failed")
		return false
	}

	var result compactSummaryResult
	if err := json.Unmarshal([]byte(resp.Content), &result); err != nil || strings.TrimSpace(result.Summary) == "" {
		result.Summary = strings.TrimSpace(resp.Content)
	}
	if result.Summary == "" {
		return false
	}

	firstStep, lastStep := 1, m.currentStep
	if len(toSummarize) > 0 && toSummarize[0].Step != nil {
		firstStep = *toSummarize[0].Step
	}
	if s := toSummarize[len(toSummarize)-1].Step; s != nil {
		lastStep = *s
	}
	summaryMsg := Message{Role: RoleUser, Text: fmt.Sprintf("[Conversation summary of steps %d\u2013%d]\n%s", firstStep, lastStep, result.Summary)}
	tm := &TrackedMessage{
		Message:       summaryMsg,
		Compactable:   false,
		TokenEstimate: estimateTokens(summaryMsg),
		Category:      CategoryCompactionSummary,
	}
	m.messages = append([]*TrackedMessage{tm}, recent...)
	m.lastCompactionStep = m.currentStep
	return true
}

// HistoryDescription renders the human-readable history (§4.2 "History
// description"), eliding the middle when step count exceeds stepLimitShown.
func (m *Manager) HistoryDescription(stepLimitShown int) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	byStep := map[int][]HistoryEntry{}
	var steps []int
	for _, e := range m.history {
		if _, ok := byStep[e.Step]; !ok {
			steps = append(steps, e.Step)
		}
		byStep[e.Step] = append(byStep[e.Step], e)
	}
	sort.Ints(steps)

	render := func(step int) string {
		var b strings.Builder
		fmt.Fprintf(&b, "Step %d:\n", step)
		for _, e := range byStep[step] {
			b.WriteString("  " + prefixFor(e.Category) + ": " + e.Summary + "\n")
		}
		return b.String()
	}

	if len(steps) <= stepLimitShown || stepLimitShown <= 0 {
		var b strings.Builder
		for _, s := range steps {
			b.WriteString(render(s))
		}
		return b.String()
	}

	head := (stepLimitShown + 1) / 2
	tail := stepLimitShown - head
	omitted := len(steps) - head - tail

	var b strings.Builder
	for _, s := range steps[:head] {
		b.WriteString(render(s))
	}
	fmt.Fprintf(&b, "  ... (%d steps omitted) ...\n", omitted)
	for _, s := range steps[len(steps)-tail:] {
		b.WriteString(render(s))
	}
	return b.String()
}

func prefixFor(c Category) string {
	switch c {
	case CategoryState:
		return "State"
	case CategoryAssistant:
		return "Agent"
	case CategoryActionResult:
		return "Result"
	case CategoryUser:
		return "User"
	case CategoryCompactionSummary:
		return "compaction_summary"
	default:
		return "State"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// State is the JSON-serializable snapshot persisted by Save/Load (§6
// "Process surface", ConversationManagerState).
type State struct {
	SystemPrompt *string          `json:"systemPrompt"`
	Messages     []PersistedMsg   `json:"messages"`
	HistoryItems []HistoryEntry   `json:"historyItems"`
	CurrentStep  int              `json:"currentStep"`
}

// PersistedMsg is the flattened, image-elided shape messages take on disk.
type PersistedMsg struct {
	Role          string   `json:"role"`
	Content       string   `json:"content"`
	IsCompactable bool     `json:"isCompactable"`
	TokenEstimate int      `json:"tokenEstimate"`
	Step          *int     `json:"step,omitempty"`
	Category      Category `json:"category,omitempty"`
}

// Save produces a persistable snapshot. Image parts become the placeholder
// text "[image]" — only flattened text content is retained, per §6.
func (m *Manager) Save() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := State{SystemPrompt: m.systemPrompt, CurrentStep: m.currentStep, HistoryItems: append([]HistoryEntry{}, m.history...)}
	for _, tm := range m.messages {
		lm := tm.Message.toLLMMessage()
		st.Messages = append(st.Messages, PersistedMsg{
			Role:          lm.Role,
			Content:       lm.Content,
			IsCompactable: tm.Compactable,
			TokenEstimate: tm.TokenEstimate,
			Step:          tm.Step,
			Category:      tm.Category,
		})
	}
	return st
}

// Load restores a Manager from a previously Save'd State. Ephemeral status
// and read-flags are not part of the persisted shape (ephemerals are
// intentionally transient and never survive a restore).
func Load(st State, contextWindowTokens int, summary SummaryPolicy, provider llm.Provider) *Manager {
	m := New(contextWindowTokens, summary, provider)
	m.systemPrompt = st.SystemPrompt
	m.currentStep = st.CurrentStep
	m.history = append([]HistoryEntry{}, st.HistoryItems...)
	for _, pm := range st.Messages {
		msg := Message{Role: pm.Role, Text: pm.Content}
		m.messages = append(m.messages, &TrackedMessage{
			Message:       msg,
			Compactable:   pm.IsCompactable,
			TokenEstimate: pm.TokenEstimate,
			Step:          pm.Step,
			Category:      pm.Category,
		})
	}
	return m
}
