// internal/autofill/dispatcher.go
package autofill

import (
	"context"
	"fmt"
)

// triggerEvents maps the gated modes to the DOM event that releases them.
var triggerEvents = map[Mode]string{
	Click: "click",
	Hover: "mouseover",
}

// Dispatcher gates when an injection may run. Each gate fires at most once;
// events after the first are ignored because the listener is gone.
type Dispatcher struct {
	listener Listener
}

// NewDispatcher uses l for one-shot event subscriptions.
func NewDispatcher(l Listener) *Dispatcher {
	return &Dispatcher{listener: l}
}

// Gate returns immediately for Fast and otherwise blocks until el receives
// the mode's trigger event or ctx ends.
func (d *Dispatcher) Gate(ctx context.Context, el Element, mode Mode) error {
	if err := mode.Validate(); err != nil {
		return err
	}
	if mode == Fast {
		return nil
	}
	if err := d.listener.Once(ctx, el, triggerEvents[mode]); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("autofill: %s gate on %s: %w", mode, el, err)
	}
	return nil
}
