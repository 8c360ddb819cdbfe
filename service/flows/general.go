package flows

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"nlu-agent/internal/llm"
	"nlu-agent/model"
)

const (
	DefaultMaxToolIterations = 5
	DefaultHistoryWindow     = 5

	maxIterationsReply = "I executed several tools but couldn't complete the request. Please try again."
)

const systemPrompt = `You are VCNI (Voice Controlled Natural Interface), a witty and helpful smart home assistant.

Keep responses short and conversational (1-3 sentences), since they are spoken aloud.
Avoid special characters, lists and emojis.
Be helpful first. If you don't know something, admit it.
When using tools, integrate the results naturally into your response.

You help users with:
- Weather information (use get_weather)
- Smart home control (use control_device)
- Music playback (use play_music)
- Web search for current information (use web_search)
- General questions and conversation`

var (
	defaultSuggestions  = []string{"What's the weather like?", "Turn on the lights", "Play some music", "Search for latest news"}
	fallbackSuggestions = []string{"What's the weather?", "Turn on the lights", "Play some music"}
)

type GeneralConfig struct {
	MaxToolIterations int
	HistoryWindow     int
}

// GeneralHandler answers open-ended input with an LLM that may call the
// weather, music, device and search tools. Without a client, or when the
// client fails, it answers from a small set of canned replies.
type GeneralHandler struct {
	client        llm.ChatClient
	tools         *ToolExecutor
	maxIterations int
	historyWindow int
	logger        *zap.Logger
}

func NewGeneralHandler(client llm.ChatClient, tools *ToolExecutor, cfg GeneralConfig, logger *zap.Logger) *GeneralHandler {
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = DefaultMaxToolIterations
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeneralHandler{
		client:        client,
		tools:         tools,
		maxIterations: cfg.MaxToolIterations,
		historyWindow: cfg.HistoryWindow,
		logger:        logger.Named("assistant"),
	}
}

func (h *GeneralHandler) Handle(ctx context.Context, req model.HandlerRequest) (*model.HandlerResult, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		message = "Hello"
	}
	if h.client == nil {
		return cannedReply(message), nil
	}

	var tools []llm.ToolDefinition
	if h.tools != nil {
		tools = llm.AssistantTools()
	}
	messages := h.buildMessages(req, message)

	uiMode := model.UIModeAIResponse
	var uiData map[string]any

	for i := 0; i < h.maxIterations; i++ {
		res, err := h.client.Chat(ctx, messages, tools)
		if err != nil {
			h.logger.Warn("LLM unavailable, using canned reply", zap.Error(err))
			return cannedReply(message), nil
		}

		if len(res.ToolCalls) == 0 {
			text := llm.StripThinking(res.Content)
			return assistantResult(text, uiMode, uiData, suggestionsFor(req.Intent)), nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   res.Content,
			ToolCalls: res.ToolCalls,
		})
		for _, tc := range res.ToolCalls {
			tr := h.tools.Execute(ctx, req.SessionID, tc.Name, tc.Arguments)
			if tr.UIMode != "" {
				uiMode = tr.UIMode
			}
			if tr.UIData != nil {
				uiData = tr.UIData
			}
			h.logger.Debug("Tool result",
				zap.Int("iteration", i),
				zap.String("tool", tc.Name),
				zap.Bool("success", tr.Success))
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    tr.JSON(),
				ToolCallID: tc.ID,
			})
		}
	}

	h.logger.Warn("Tool loop hit iteration limit", zap.Int("max_iterations", h.maxIterations))
	return assistantResult(maxIterationsReply, uiMode, uiData, nil), nil
}

// buildMessages prepends the system prompt and the recent history. The
// current input is already the last history turn, so it is not repeated.
func (h *GeneralHandler) buildMessages(req model.HandlerRequest, message string) []llm.Message {
	history := req.History
	if n := len(history); n > 0 && history[n-1].Role == model.RoleUser && strings.TrimSpace(history[n-1].Text) == message {
		history = history[:n-1]
	}
	if len(history) > h.historyWindow {
		history = history[len(history)-h.historyWindow:]
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	for _, turn := range history {
		role := llm.RoleAssistant
		if turn.Role == model.RoleUser {
			role = llm.RoleUser
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Text})
	}

	current := message
	if req.Intent != "" {
		current = fmt.Sprintf("[User intent: %s] %s", req.Intent, message)
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: current})
}

func assistantResult(text, uiMode string, uiData map[string]any, suggestions []string) *model.HandlerResult {
	if uiMode == model.UIModeAIResponse {
		data := map[string]any{"response": text, "suggestions": suggestions}
		if uiData != nil {
			data["search"] = uiData
		}
		uiData = data
	}
	return &model.HandlerResult{
		ResponseText: text,
		UIMode:       uiMode,
		UIData:       uiData,
		Action:       model.GeneralAction{Type: "general", Message: text},
		Suggestions:  suggestions,
	}
}

func cannedReply(message string) *model.HandlerResult {
	lower := strings.ToLower(message)
	var text string
	switch {
	case strings.Contains(lower, "hello"), strings.Contains(lower, "hi"):
		text = "Hey there! I'm VCNI, your smart assistant. What can I help you with?"
	case strings.Contains(lower, "thank"):
		text = "You're welcome! Anything else I can help with?"
	default:
		text = "I'm having trouble connecting to my brain right now. Try again in a moment?"
	}
	return assistantResult(text, model.UIModeAIResponse, nil, fallbackSuggestions)
}

func suggestionsFor(intent string) []string {
	intent = strings.ToLower(intent)
	switch {
	case strings.Contains(intent, "weather"):
		return []string{"What about tomorrow?", "How about next week?", "Should I bring an umbrella?"}
	case strings.Contains(intent, "music"):
		return []string{"Skip this song", "Turn up the volume", "Play something chill"}
	case strings.Contains(intent, "iot"), strings.Contains(intent, "light"):
		return []string{"Dim the lights", "Turn off all lights", "Set lights to blue"}
	case strings.Contains(intent, "search"):
		return []string{"Tell me more", "Search for something else", "What's trending?"}
	default:
		return defaultSuggestions
	}
}
