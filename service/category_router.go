package service

import (
	"go.uber.org/zap"

	"nlu-agent/model"
)

// CategoryRouter maps an intent to its handling category. It is the single
// place category membership is decided.
type CategoryRouter struct {
	registry *SlotRegistry
	logger   *zap.Logger
}

func NewCategoryRouter(registry *SlotRegistry, logger *zap.Logger) *CategoryRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CategoryRouter{
		registry: registry,
		logger:   logger.Named("category-router"),
	}
}

// CategoryOf is total: an empty or unregistered intent resolves to General.
func (r *CategoryRouter) CategoryOf(intent string) model.Category {
	if intent == "" {
		return model.CategoryGeneral
	}
	c, ok := r.registry.categoryOf(intent)
	if !ok {
		r.logger.Debug("No category for intent, using general", zap.String("intent", intent))
		return model.CategoryGeneral
	}
	return c
}

// UIModeOf is the presentation tag of the intent's category.
func (r *CategoryRouter) UIModeOf(intent string) string {
	return r.CategoryOf(intent).UIMode()
}
