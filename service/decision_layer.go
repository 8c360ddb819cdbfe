package service

import (
	"go.uber.org/zap"

	"nlu-agent/model"
)

// Decision is the transition chosen for one input.
type Decision string

const (
	// DecisionSlotAnswer: the input answers the pending question.
	DecisionSlotAnswer Decision = "slot_answer"
	// DecisionNewTurn: the input is merged as a fresh classification.
	DecisionNewTurn Decision = "new_turn"
	// DecisionAskSlot: required slots are missing, ask for the next one.
	DecisionAskSlot Decision = "ask_slot"
	// DecisionClarify: an intent was guessed with too little confidence.
	DecisionClarify Decision = "clarify"
	// DecisionFallback: no intent, hand the message to the open-ended handler.
	DecisionFallback Decision = "fallback"
	// DecisionExecute: the request is complete, dispatch it.
	DecisionExecute Decision = "execute"
)

// DecisionLayer holds the pure transition rules of the turn state machine.
type DecisionLayer struct {
	logger *zap.Logger
}

func NewDecisionLayer(logger *zap.Logger) *DecisionLayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecisionLayer{logger: logger.Named("decision")}
}

// Route decides, before anything is merged, whether text continues the slot
// collection in progress.
func (d *DecisionLayer) Route(dc *DialogueContext, text string) Decision {
	if dc.Phase() == model.StateCollecting && dc.AwaitingSlot() != "" && dc.IsContextAnswer(text) {
		d.logger.Debug("Input answers pending question",
			zap.String("intent", dc.CurrentIntent()),
			zap.String("awaiting_slot", string(dc.AwaitingSlot())))
		return DecisionSlotAnswer
	}
	return DecisionNewTurn
}

// AfterSlotAnswer decides what follows a filled slot.
func (d *DecisionLayer) AfterSlotAnswer(dc *DialogueContext) Decision {
	if !dc.IsComplete() {
		return DecisionAskSlot
	}
	return DecisionExecute
}

// Decide picks the transition once cls has been merged into dc.
func (d *DecisionLayer) Decide(dc *DialogueContext, cls model.ClassificationResult) Decision {
	var decision Decision
	switch {
	case cls.Intent == "":
		decision = DecisionFallback
	case cls.NeedsClarification:
		decision = DecisionClarify
	case !dc.IsComplete():
		decision = DecisionAskSlot
	default:
		decision = DecisionExecute
	}

	d.logger.Debug("Decided transition",
		zap.String("decision", string(decision)),
		zap.String("intent", cls.Intent),
		zap.Float64("confidence", cls.Confidence),
		zap.Int("missing", len(dc.MissingSlots())))
	return decision
}
