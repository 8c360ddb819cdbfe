package service

import "errors"

var (
	ErrInvalidParam = errors.New("invalid parameter")
	ErrNoHandler    = errors.New("no handler registered for category")
	ErrHandlerPanic = errors.New("handler panicked")
)
