package flows

import "errors"

// ErrMissingSlot means a handler was dispatched without a slot it needs.
var ErrMissingSlot = errors.New("missing slot")
