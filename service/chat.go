package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"nlu-agent/model"
)

const (
	ApologyMessage    = "I'm sorry, I encountered an error. Please try again."
	EmptyInputMessage = "No text provided."
	clarifyMessage    = "I'm not quite sure what you mean. Could you please clarify?"
	defaultReply      = "How can I assist you?"

	// DefaultMaxHandlerFailures is how many consecutive handler failures a
	// pending intent survives before it is abandoned.
	DefaultMaxHandlerFailures = 3

	maxClarifyOptions = 3
)

// Classifier turns raw text into an intent guess. Implementations never fail:
// on timeout or transport errors they return model.DegradedClassification.
type Classifier interface {
	Classify(ctx context.Context, text string, hint *model.ContextHint) model.ClassificationResult
}

// ChatService is the dialogue controller. Process is the only entry point a
// transport needs.
type ChatService struct {
	classifier  Classifier
	store       *SessionStore
	registry    *SlotRegistry
	router      *CategoryRouter
	decider     *DecisionLayer
	handlers    HandlerRegistry
	maxFailures int
	logger      *zap.Logger
}

// ChatServiceConfig holds dependencies for NewChatService.
type ChatServiceConfig struct {
	Classifier         Classifier
	Store              *SessionStore
	Registry           *SlotRegistry
	Handlers           HandlerRegistry
	MaxHandlerFailures int
	Logger             *zap.Logger
}

func NewChatService(cfg ChatServiceConfig) *ChatService {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Registry == nil {
		cfg.Registry = NewSlotRegistry()
	}
	if cfg.Store == nil {
		cfg.Store = NewSessionStore(SessionStoreConfig{Registry: cfg.Registry, Logger: cfg.Logger})
	}
	if cfg.MaxHandlerFailures <= 0 {
		cfg.MaxHandlerFailures = DefaultMaxHandlerFailures
	}
	return &ChatService{
		classifier:  cfg.Classifier,
		store:       cfg.Store,
		registry:    cfg.Registry,
		router:      NewCategoryRouter(cfg.Registry, cfg.Logger),
		decider:     NewDecisionLayer(cfg.Logger),
		handlers:    cfg.Handlers,
		maxFailures: cfg.MaxHandlerFailures,
		logger:      cfg.Logger.Named("controller"),
	}
}

func (s *ChatService) Store() *SessionStore { return s.store }

func (s *ChatService) Router() *CategoryRouter { return s.router }

// Process handles one input for a session. It never fails: every problem is
// reported as a Response with State error. The session is updated as a whole
// or, when ctx is cancelled mid-turn, not at all.
func (s *ChatService) Process(ctx context.Context, sessionID, text string) *model.Response {
	text = strings.TrimSpace(text)
	if text == "" {
		return &model.Response{
			Response: EmptyInputMessage,
			UIMode:   model.UIModeAIResponse,
			State:    model.ResponseError,
			Slots:    model.Slots{},
		}
	}

	lease, err := s.store.Acquire(ctx, sessionID)
	if err != nil {
		s.logger.Warn("Could not acquire session", zap.String("session_id", sessionID), zap.Error(err))
		return errorResponse("")
	}
	defer lease.Release()

	work := lease.Context().Clone()
	s.logger.Debug("Processing input",
		zap.String("session_id", sessionID),
		zap.String("state", string(work.Phase())),
		zap.String("intent", work.CurrentIntent()))

	resp, err := s.runTurn(ctx, sessionID, work, text)
	if err != nil {
		resp = s.failTurn(sessionID, work, err)
	}

	if ctx.Err() != nil {
		s.logger.Warn("Request abandoned, discarding turn",
			zap.String("session_id", sessionID),
			zap.Error(ctx.Err()))
		return errorResponse(lease.Context().CurrentIntent())
	}

	lease.Commit(ctx, work)
	return resp
}

func (s *ChatService) runTurn(ctx context.Context, sessionID string, dc *DialogueContext, text string) (*model.Response, error) {
	cls := s.classify(ctx, text, dc.Hint())

	if s.decider.Route(dc, text) == DecisionSlotAnswer {
		s.fillAwaited(dc, text, cls)
		if s.decider.AfterSlotAnswer(dc) == DecisionAskSlot {
			return s.askNext(dc, cls), nil
		}
		return s.execute(ctx, sessionID, dc, cls)
	}

	dc.Update(text, cls)
	switch s.decider.Decide(dc, cls) {
	case DecisionFallback:
		return s.fallback(ctx, sessionID, dc, cls)
	case DecisionClarify:
		return s.clarify(dc, cls), nil
	case DecisionAskSlot:
		return s.askNext(dc, cls), nil
	default:
		return s.execute(ctx, sessionID, dc, cls)
	}
}

func (s *ChatService) classify(ctx context.Context, text string, hint *model.ContextHint) (cls model.ClassificationResult) {
	if s.classifier == nil {
		return model.DegradedClassification()
	}
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("Classifier panicked", zap.Any("panic", p))
			cls = model.DegradedClassification()
		}
	}()

	cls = s.classifier.Classify(ctx, text, hint)
	if cls.Slots == nil {
		cls.Slots = map[string]any{}
	}
	switch {
	case cls.Confidence < 0:
		cls.Confidence = 0
	case cls.Confidence > 1:
		cls.Confidence = 1
	}
	return cls
}

// fillAwaited stores the answer to the pending question and merges any other
// slots the classifier found that are not collected yet.
func (s *ChatService) fillAwaited(dc *DialogueContext, text string, cls model.ClassificationResult) {
	awaiting := dc.AwaitingSlot()
	extracted := s.registry.NormalizeSlots(cls.Slots)

	var value any = text
	if v, ok := extracted[awaiting]; ok && v != nil {
		value = v
	}

	dc.AddUserTurn(text, cls)
	dc.FillSlot(awaiting, value)

	collected := dc.CollectedSlots()
	for name, v := range extracted {
		if _, ok := collected[name]; !ok {
			dc.FillSlot(name, v)
		}
	}
}

func (s *ChatService) askNext(dc *DialogueContext, cls model.ClassificationResult) *model.Response {
	question, ok := dc.NextQuestion()
	if !ok {
		question = "I need more information."
	} else {
		dc.AddAssistantTurn(question, "")
	}

	return &model.Response{
		Response:         question,
		UIMode:           s.router.UIModeOf(dc.CurrentIntent()),
		State:            model.ResponseAwaitingInfo,
		NeedsMoreInfo:    true,
		FollowUpQuestion: question,
		Intent:           dc.CurrentIntent(),
		Confidence:       confidence(cls),
		Slots:            dc.CollectedSlots(),
	}
}

// clarify asks the user to confirm a low-confidence guess. The guess is not
// kept; the next input is classified from scratch.
func (s *ChatService) clarify(dc *DialogueContext, cls model.ClassificationResult) *model.Response {
	question := clarificationQuestion(cls)
	dc.AddAssistantTurn(question, cls.Intent)
	dc.Reset()

	return &model.Response{
		Response:         question,
		UIMode:           model.UIModeAIResponse,
		State:            model.ResponseAwaitingInfo,
		NeedsMoreInfo:    true,
		FollowUpQuestion: question,
		Intent:           cls.Intent,
		Confidence:       confidence(cls),
		Slots:            model.Slots{},
	}
}

func clarificationQuestion(cls model.ClassificationResult) string {
	var options []string
	for _, c := range cls.Candidates {
		if intent, _ := c["intent"].(string); intent != "" {
			options = append(options, humanizeIntent(intent))
		}
		if len(options) == maxClarifyOptions {
			break
		}
	}
	if len(options) == 0 && cls.Intent != "" {
		options = append(options, humanizeIntent(cls.Intent))
	}

	switch len(options) {
	case 0:
		return clarifyMessage
	case 1:
		return fmt.Sprintf("Did you mean %s?", options[0])
	default:
		return fmt.Sprintf("Did you mean one of these: %s?", strings.Join(options, ", "))
	}
}

func humanizeIntent(intent string) string {
	return strings.ReplaceAll(intent, "_", " ")
}

// fallback hands an unclassified input to the General handler.
func (s *ChatService) fallback(ctx context.Context, sessionID string, dc *DialogueContext, cls model.ClassificationResult) (*model.Response, error) {
	intent := dc.CurrentIntent()
	message, _ := dc.LastUserMessage()

	res, err := s.handlers.Dispatch(ctx, model.CategoryGeneral, model.HandlerRequest{
		SessionID: sessionID,
		Intent:    intent,
		Message:   message,
		History:   dc.History(),
	})
	if err != nil {
		return nil, err
	}

	dc.AddAssistantTurn(res.ResponseText, intent)
	dc.Reset()
	return completedResponse(res, model.CategoryGeneral, intent, cls, nil), nil
}

// execute dispatches a complete request to its category handler.
func (s *ChatService) execute(ctx context.Context, sessionID string, dc *DialogueContext, cls model.ClassificationResult) (*model.Response, error) {
	intent := dc.CurrentIntent()
	category := s.router.CategoryOf(intent)
	slots := dc.CollectedSlots()
	message, _ := dc.LastUserMessage()

	s.logger.Debug("Executing intent",
		zap.String("session_id", sessionID),
		zap.String("intent", intent),
		zap.String("category", string(category)))

	res, err := s.handlers.Dispatch(ctx, category, model.HandlerRequest{
		SessionID: sessionID,
		Intent:    intent,
		Slots:     slots,
		Message:   message,
		History:   dc.History(),
	})
	if err != nil {
		return nil, err
	}

	dc.AddAssistantTurn(res.ResponseText, intent)
	dc.Reset()
	return completedResponse(res, category, intent, cls, slots), nil
}

// failTurn keeps the pending intent so the user can retry, unless it has
// failed too often in a row.
func (s *ChatService) failTurn(sessionID string, dc *DialogueContext, err error) *model.Response {
	intent := dc.CurrentIntent()
	dc.recordFailure()

	fields := []zap.Field{
		zap.String("session_id", sessionID),
		zap.String("intent", intent),
		zap.Int("failures", dc.Failures()),
		zap.Error(err),
	}
	if errors.Is(err, ErrHandlerPanic) {
		s.logger.Error("Handler panicked", fields...)
	} else {
		s.logger.Error("Handler failed", fields...)
	}

	if dc.Failures() >= s.maxFailures {
		s.logger.Warn("Abandoning intent after repeated failures", fields...)
		dc.Reset()
	}
	return errorResponse(intent)
}

func completedResponse(res *model.HandlerResult, category model.Category, intent string, cls model.ClassificationResult, slots model.Slots) *model.Response {
	uiMode := res.UIMode
	if uiMode == "" {
		uiMode = category.UIMode()
	}
	text := res.ResponseText
	if text == "" {
		text = defaultReply
	}
	if slots == nil {
		slots = model.Slots{}
	}
	return &model.Response{
		Response:   text,
		UIMode:     uiMode,
		UIData:     res.UIData,
		Action:     res.Action,
		State:      model.ResponseCompleted,
		Intent:     intent,
		Confidence: confidence(cls),
		Slots:      slots,
	}
}

func errorResponse(intent string) *model.Response {
	return &model.Response{
		Response: ApologyMessage,
		UIMode:   model.UIModeAIResponse,
		State:    model.ResponseError,
		Intent:   intent,
		Slots:    model.Slots{},
	}
}

func confidence(cls model.ClassificationResult) *float64 {
	c := cls.Confidence
	return &c
}
