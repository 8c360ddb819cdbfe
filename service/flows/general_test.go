package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlu-agent/internal/llm"
	"nlu-agent/model"
)

// scriptedLLM returns its replies in order and records what it was sent.
type scriptedLLM struct {
	replies []*llm.ChatResult
	err     error
	calls   [][]llm.Message
}

func (s *scriptedLLM) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.ChatResult, error) {
	s.calls = append(s.calls, append([]llm.Message(nil), messages...))
	if s.err != nil {
		return nil, s.err
	}
	if len(s.calls) > len(s.replies) {
		return s.replies[len(s.replies)-1], nil
	}
	return s.replies[len(s.calls)-1], nil
}

func turn(role model.Role, text string) model.Turn {
	return model.Turn{ID: text, Role: role, Text: text, Timestamp: time.Now()}
}

func TestGeneralHandler_PlainReply(t *testing.T) {
	client := &scriptedLLM{replies: []*llm.ChatResult{{Content: "<think>user greets</think>Hi! How can I help?"}}}
	h := NewGeneralHandler(client, nil, GeneralConfig{}, nil)

	res, err := h.Handle(context.Background(), model.HandlerRequest{
		SessionID: "s1",
		Message:   "hello",
		History:   []model.Turn{turn(model.RoleUser, "hello")},
	})
	require.NoError(t, err)

	assert.Equal(t, "Hi! How can I help?", res.ResponseText)
	assert.Equal(t, model.UIModeAIResponse, res.UIMode)
	assert.Equal(t, "Hi! How can I help?", res.UIData["response"])
	assert.Equal(t, defaultSuggestions, res.Suggestions)

	// system prompt plus the current input; the duplicate history turn is dropped
	require.Len(t, client.calls, 1)
	msgs := client.calls[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "hello"}, msgs[1])
}

func TestGeneralHandler_HistoryWindowAndIntent(t *testing.T) {
	client := &scriptedLLM{replies: []*llm.ChatResult{{Content: "Sure."}}}
	h := NewGeneralHandler(client, nil, GeneralConfig{HistoryWindow: 2}, nil)

	_, err := h.Handle(context.Background(), model.HandlerRequest{
		Intent:  "general_joke",
		Message: "another one",
		History: []model.Turn{
			turn(model.RoleUser, "tell me a joke"),
			turn(model.RoleAssistant, "Why did the gopher..."),
			turn(model.RoleUser, "haha"),
			turn(model.RoleAssistant, "Glad you liked it"),
			turn(model.RoleUser, "another one"),
		},
	})
	require.NoError(t, err)

	msgs := client.calls[0]
	require.Len(t, msgs, 4)
	assert.Equal(t, "haha", msgs[1].Content)
	assert.Equal(t, llm.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "[User intent: general_joke] another one", msgs[3].Content)
}

func TestGeneralHandler_ToolLoop(t *testing.T) {
	client := &scriptedLLM{replies: []*llm.ChatResult{
		{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: llm.ToolGetWeather, Arguments: `{"location": "Tokyo"}`}}},
		{Content: "It's 21 degrees and clear in Tokyo."},
	}}
	tools, _ := newTestExecutor()
	h := NewGeneralHandler(client, tools, GeneralConfig{}, nil)

	res, err := h.Handle(context.Background(), model.HandlerRequest{SessionID: "s1", Intent: "weather_chat", Message: "how's Tokyo?"})
	require.NoError(t, err)

	assert.Equal(t, "It's 21 degrees and clear in Tokyo.", res.ResponseText)
	assert.Equal(t, model.UIModeWeather, res.UIMode)
	assert.Equal(t, 21, res.UIData["temperature"])
	assert.Equal(t, suggestionsFor("weather"), res.Suggestions)

	require.Len(t, client.calls, 2)
	second := client.calls[1]
	toolMsg := second[len(second)-1]
	assert.Equal(t, llm.RoleTool, toolMsg.Role)
	assert.Equal(t, "call_1", toolMsg.ToolCallID)
	assert.Contains(t, toolMsg.Content, "Tokyo")
	assert.Equal(t, llm.RoleAssistant, second[len(second)-2].Role)
}

func TestGeneralHandler_SearchToolKeepsAIResponse(t *testing.T) {
	client := &scriptedLLM{replies: []*llm.ChatResult{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: llm.ToolWebSearch, Arguments: `{"query": "go release"}`}}},
		{Content: "Go 1.23 is out."},
	}}
	tools, _ := newTestExecutor()
	h := NewGeneralHandler(client, tools, GeneralConfig{}, nil)

	res, err := h.Handle(context.Background(), model.HandlerRequest{Message: "what's new in go?"})
	require.NoError(t, err)

	assert.Equal(t, model.UIModeAIResponse, res.UIMode)
	search, ok := res.UIData["search"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "go release", search["searchQuery"])
}

func TestGeneralHandler_IterationLimit(t *testing.T) {
	client := &scriptedLLM{replies: []*llm.ChatResult{
		{ToolCalls: []llm.ToolCall{{ID: "c", Name: llm.ToolControlDevice, Arguments: `{"action": "turn_on"}`}}},
	}}
	tools, _ := newTestExecutor()
	h := NewGeneralHandler(client, tools, GeneralConfig{MaxToolIterations: 2}, nil)

	res, err := h.Handle(context.Background(), model.HandlerRequest{SessionID: "s1", Message: "lights!"})
	require.NoError(t, err)

	assert.Len(t, client.calls, 2)
	assert.Equal(t, maxIterationsReply, res.ResponseText)
	assert.Equal(t, model.UIModeSmartHome, res.UIMode)
}

func TestGeneralHandler_CannedReplies(t *testing.T) {
	tests := []struct {
		name    string
		client  llm.ChatClient
		message string
		want    string
	}{
		{"no client greeting", nil, "hello there", "Hey there! I'm VCNI, your smart assistant. What can I help you with?"},
		{"no client thanks", nil, "Thanks a lot", "You're welcome! Anything else I can help with?"},
		{"client error", &scriptedLLM{err: errors.New("rate limited")}, "what's up", "I'm having trouble connecting to my brain right now. Try again in a moment?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewGeneralHandler(tt.client, nil, GeneralConfig{}, nil)

			res, err := h.Handle(context.Background(), model.HandlerRequest{Message: tt.message})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.ResponseText)
			assert.Equal(t, fallbackSuggestions, res.Suggestions)
		})
	}
}

func TestSuggestionsFor(t *testing.T) {
	assert.Equal(t, "Skip this song", suggestionsFor("play_music")[0])
	assert.Equal(t, "Dim the lights", suggestionsFor("iot_hue_lighton")[0])
	assert.Equal(t, defaultSuggestions, suggestionsFor(""))
}
