package service

import (
	"context"
	"fmt"

	"nlu-agent/model"
)

// CategoryHandler performs the action of one category.
//
// For executed intents the request carries the collected slots; for the
// open-ended fallback it carries the raw message and the history. Returned
// errors become an error turn in the controller.
type CategoryHandler interface {
	Handle(ctx context.Context, req model.HandlerRequest) (*model.HandlerResult, error)
}

// HandlerFunc adapts a function to CategoryHandler.
type HandlerFunc func(ctx context.Context, req model.HandlerRequest) (*model.HandlerResult, error)

func (f HandlerFunc) Handle(ctx context.Context, req model.HandlerRequest) (*model.HandlerResult, error) {
	return f(ctx, req)
}

// HandlerRegistry maps a category to its handler. Categories without a
// handler are served by the General handler.
type HandlerRegistry map[model.Category]CategoryHandler

// Dispatch calls the handler for category. A panicking handler is reported as
// ErrHandlerPanic.
func (r HandlerRegistry) Dispatch(ctx context.Context, category model.Category, req model.HandlerRequest) (res *model.HandlerResult, err error) {
	h, ok := r[category]
	if !ok {
		h, ok = r[model.CategoryGeneral]
	}
	if !ok || h == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, category)
	}

	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanic, category, p)
		}
	}()

	res, err = h.Handle(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s handler: %w", category, err)
	}
	if res == nil {
		return nil, fmt.Errorf("%s handler returned no result", category)
	}
	return res, nil
}
