package conversation

import (
	"strings"
	"testing"

	"github.com/ntegrals/openbrowser/internal/llm"
	"github.com/stretchr/testify/require"
)

func TestGetMessagesOrdersSystemFirst(t *testing.T) {
	m := New(0, SummaryPolicy{}, nil)
	m.SetInstructionBuilder("sys")
	m.AddUserMessage("hello")
	m.AddAssistantMessage("world")

	msgs := m.GetMessages()
	require.Len(t, msgs, 3)
	require.Equal(t, RoleSystem, msgs[0].Role)
	require.Equal(t, "hello", msgs[1].Content)
	require.Equal(t, "world", msgs[2].Content)
}

func TestGetMessagesIdempotentForNonEphemeral(t *testing.T) {
	m := New(0, SummaryPolicy{}, nil)
	m.AddUserMessage("a")
	first := m.GetMessages()
	second := m.GetMessages()
	require.Equal(t, first, second)
}

func TestEphemeralVisibleForExactlyTwoCalls(t *testing.T) {
	m := New(0, SummaryPolicy{}, nil)
	m.AddEphemeralMessage("X", "")

	msgs1 := m.GetMessages()
	require.True(t, containsContent(msgs1, "X"))

	msgs2 := m.GetMessages()
	require.True(t, containsContent(msgs2, "X"))

	msgs3 := m.GetMessages()
	require.False(t, containsContent(msgs3, "X"))
}

func TestTokenMonotonicity(t *testing.T) {
	m := New(0, SummaryPolicy{}, nil)
	before := m.EstimateTotalTokens()
	m.AddUserMessage("hello world")
	after := m.EstimateTotalTokens()
	require.Greater(t, after, before)
}

func TestBasicCompactionStripsOlderImagesKeepsNewest(t *testing.T) {
	m := New(1500, SummaryPolicy{}, nil)
	for i := 0; i < 3; i++ {
		m.AddStateMessage("state", "ZmFrZWJhc2U2NA==", "image/png")
	}
	_ = m.GetMessages()

	imageCount := 0
	for _, tm := range m.messages {
		if tm.Message.hasImage() {
			imageCount++
		}
	}
	require.Equal(t, 1, imageCount)
}

func TestCompactionBoundOrFourMessages(t *testing.T) {
	m := New(50, SummaryPolicy{}, nil)
	for i := 0; i < 20; i++ {
		m.AddUserMessage(strings.Repeat("word ", 20))
	}
	m.GetMessages()
	ok := m.EstimateTotalTokens() <= 50 || len(m.messages) <= 4
	require.True(t, ok)
}

func TestSensitiveValueRedaction(t *testing.T) {
	m := New(0, SummaryPolicy{}, nil)
	m.SetSensitiveValue("apiKey", "sk-12345")
	m.AddUserMessage("my key is sk-12345 thanks")
	msgs := m.GetMessages()
	require.Contains(t, msgs[0].Content, "<APIKEY>")
	require.NotContains(t, msgs[0].Content, "sk-12345")
}

func containsContent(msgs []llm.Message, want string) bool {
	for _, m := range msgs {
		if strings.Contains(m.Content, want) {
			return true
		}
	}
	return false
}
