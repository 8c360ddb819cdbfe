package service

import (
	"time"

	"github.com/google/uuid"

	"nlu-agent/model"
	"nlu-agent/utils"
)

// DefaultShortAnswerMaxTokens is the token count at or below which an input is
// taken as the answer to a pending question while required slots are missing.
const DefaultShortAnswerMaxTokens = 5

// DialogueContext is the mutable state of one session. It is not safe for
// concurrent use; the SessionStore serializes access per session.
type DialogueContext struct {
	history        []model.Turn
	currentIntent  string
	collectedSlots model.Slots
	missingSlots   []model.SlotName
	awaitingSlot   model.SlotName
	failures       int
	lastUpdated    time.Time

	registry             *SlotRegistry
	shortAnswerMaxTokens int
	now                  func() time.Time
}

// ContextOption configures a DialogueContext.
type ContextOption func(*DialogueContext)

// WithShortAnswerMaxTokens sets the short-answer threshold of IsContextAnswer.
func WithShortAnswerMaxTokens(n int) ContextOption {
	return func(c *DialogueContext) {
		if n >= 0 {
			c.shortAnswerMaxTokens = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ContextOption {
	return func(c *DialogueContext) {
		if now != nil {
			c.now = now
		}
	}
}

func NewDialogueContext(registry *SlotRegistry, opts ...ContextOption) *DialogueContext {
	if registry == nil {
		registry = NewSlotRegistry()
	}
	c := &DialogueContext{
		collectedSlots:       model.Slots{},
		registry:             registry,
		shortAnswerMaxTokens: DefaultShortAnswerMaxTokens,
		now:                  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lastUpdated = c.now()
	return c
}

// Update records a user input and merges its classification. Unless the input
// continues slot collection for the current intent, a classified intent starts
// over with an empty slot set.
func (c *DialogueContext) Update(text string, cls model.ClassificationResult) {
	c.appendTurn(model.RoleUser, text, cls.Intent, cls.Slots)

	if cls.Intent != "" && !c.IsContextAnswer(text) {
		// A retry of the same intent keeps counting failures.
		if cls.Intent != c.currentIntent {
			c.failures = 0
		}
		c.currentIntent = cls.Intent
		c.collectedSlots = model.Slots{}
		c.missingSlots = nil
		c.awaitingSlot = ""
	}

	for name, v := range c.registry.NormalizeSlots(cls.Slots) {
		c.collectedSlots[name] = v
	}

	c.recomputeMissing()
	c.touch()
}

// AddUserTurn appends a user turn without touching intent or slot state.
func (c *DialogueContext) AddUserTurn(text string, cls model.ClassificationResult) {
	c.appendTurn(model.RoleUser, text, cls.Intent, cls.Slots)
	c.touch()
}

// IsContextAnswer reports whether text continues slot collection: either a
// question is pending for the current intent, or required slots are missing
// and the input is short.
func (c *DialogueContext) IsContextAnswer(text string) bool {
	if c.awaitingSlot != "" && c.currentIntent != "" {
		return true
	}
	return len(c.missingSlots) > 0 && utils.CountTokens(text) <= c.shortAnswerMaxTokens
}

// FillSlot stores value under name and clears the pending question if it
// asked for name.
func (c *DialogueContext) FillSlot(name model.SlotName, value any) {
	c.collectedSlots[name] = value
	c.recomputeMissing()
	if c.awaitingSlot == name {
		c.awaitingSlot = ""
	}
	c.touch()
}

// NextQuestion selects the first missing slot as the awaited one and returns
// its prompt. ok is false when nothing is missing. Repeated calls without an
// intervening fill return the same question.
func (c *DialogueContext) NextQuestion() (question string, ok bool) {
	if len(c.missingSlots) == 0 {
		return "", false
	}
	next := c.missingSlots[0]
	c.awaitingSlot = next
	return c.registry.PromptFor(next), true
}

func (c *DialogueContext) IsComplete() bool {
	return len(c.missingSlots) == 0
}

// AddAssistantTurn appends an assistant reply. An empty intent defaults to the
// current intent.
func (c *DialogueContext) AddAssistantTurn(text, intent string) {
	if intent == "" {
		intent = c.currentIntent
	}
	c.appendTurn(model.RoleAssistant, text, intent, nil)
	c.touch()
}

// LastUserMessage returns the most recent user text.
func (c *DialogueContext) LastUserMessage() (string, bool) {
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].Role == model.RoleUser {
			return c.history[i].Text, true
		}
	}
	return "", false
}

// History returns a copy of the conversation so far.
func (c *DialogueContext) History() []model.Turn {
	return append([]model.Turn(nil), c.history...)
}

// Reset forgets the intent and slot state; history is kept.
func (c *DialogueContext) Reset() {
	c.currentIntent = ""
	c.collectedSlots = model.Slots{}
	c.missingSlots = nil
	c.awaitingSlot = ""
	c.failures = 0
}

// ClearAll forgets everything including history.
func (c *DialogueContext) ClearAll() {
	c.history = nil
	c.Reset()
}

func (c *DialogueContext) CurrentIntent() string { return c.currentIntent }

func (c *DialogueContext) CollectedSlots() model.Slots {
	return c.collectedSlots.Clone()
}

func (c *DialogueContext) MissingSlots() []model.SlotName {
	return append([]model.SlotName(nil), c.missingSlots...)
}

func (c *DialogueContext) AwaitingSlot() model.SlotName { return c.awaitingSlot }

func (c *DialogueContext) LastUpdated() time.Time { return c.lastUpdated }

// Failures is the number of consecutive handler failures for the current intent.
func (c *DialogueContext) Failures() int { return c.failures }

func (c *DialogueContext) recordFailure() { c.failures++ }

// Phase derives the conceptual dialogue state.
func (c *DialogueContext) Phase() model.DialogueState {
	switch {
	case c.currentIntent == "":
		return model.StateIdle
	case c.failures > 0:
		return model.StateError
	case len(c.missingSlots) > 0:
		return model.StateCollecting
	default:
		return model.StateIdle
	}
}

// Hint is the classifier context hint, or nil when no intent is in progress.
func (c *DialogueContext) Hint() *model.ContextHint {
	if c.currentIntent == "" {
		return nil
	}
	return &model.ContextHint{
		CurrentIntent:  c.currentIntent,
		CollectedSlots: c.collectedSlots.Clone(),
		AwaitingSlot:   string(c.awaitingSlot),
	}
}

// Clone returns an independent copy sharing only immutable data.
func (c *DialogueContext) Clone() *DialogueContext {
	cp := *c
	cp.history = append([]model.Turn(nil), c.history...)
	cp.collectedSlots = c.collectedSlots.Clone()
	if cp.collectedSlots == nil {
		cp.collectedSlots = model.Slots{}
	}
	cp.missingSlots = append([]model.SlotName(nil), c.missingSlots...)
	return &cp
}

// Snapshot returns the persistable form of the context.
func (c *DialogueContext) Snapshot(sessionID string) model.ContextSnapshot {
	return model.ContextSnapshot{
		SessionID:      sessionID,
		History:        c.History(),
		CurrentIntent:  c.currentIntent,
		CollectedSlots: c.collectedSlots.Clone(),
		MissingSlots:   c.MissingSlots(),
		AwaitingSlot:   string(c.awaitingSlot),
		Failures:       c.failures,
		LastUpdated:    c.lastUpdated,
	}
}

// RestoreDialogueContext rebuilds a context from a snapshot. Missing slots are
// recomputed against the current registry rather than trusted.
func RestoreDialogueContext(snap model.ContextSnapshot, registry *SlotRegistry, opts ...ContextOption) *DialogueContext {
	c := NewDialogueContext(registry, opts...)
	c.history = append([]model.Turn(nil), snap.History...)
	c.currentIntent = snap.CurrentIntent
	c.collectedSlots = snap.CollectedSlots.Clone()
	if c.collectedSlots == nil {
		c.collectedSlots = model.Slots{}
	}
	c.failures = snap.Failures
	c.recomputeMissing()
	c.awaitingSlot = model.SlotName(snap.AwaitingSlot)
	if _, filled := c.collectedSlots[c.awaitingSlot]; filled {
		c.awaitingSlot = ""
	}
	if !snap.LastUpdated.IsZero() {
		c.lastUpdated = snap.LastUpdated
	}
	return c
}

func (c *DialogueContext) recomputeMissing() {
	if c.currentIntent == "" {
		c.missingSlots = nil
		return
	}
	var missing []model.SlotName
	for _, name := range c.registry.RequiredSlots(c.currentIntent) {
		if _, ok := c.collectedSlots[name]; !ok {
			missing = append(missing, name)
		}
	}
	c.missingSlots = missing
}

func (c *DialogueContext) appendTurn(role model.Role, text, intent string, slots map[string]any) {
	var copied map[string]any
	if len(slots) > 0 {
		copied = make(map[string]any, len(slots))
		for k, v := range slots {
			copied[k] = v
		}
	}
	c.history = append(c.history, model.Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: c.now(),
		Intent:    intent,
		Slots:     copied,
	})
}

func (c *DialogueContext) touch() {
	c.lastUpdated = c.now()
}
