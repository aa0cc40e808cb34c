// Package dispatcher maps a normalised action name onto a handler
// capability (spec §4.1, §9 redesign flag "Action dispatch by string":
// "model as a mapping from normalised action name to a handler
// capability ... adding an action is a registration, not a
// switch-statement edit").
package dispatcher

import "fmt"

// Handler is the uniform contract every registered action implements:
// accept a filesystem path to a self-contained config document, perform
// the work, and return an error on failure (spec §4.1, §6.4).
type Handler func(configPath string) error

// Dispatcher holds the registration of action token to Handler.
// pipeline is deliberately never registered here: it is routed to the
// Pipeline Engine by the caller, never to an external handler (spec
// §4.1: "pipeline is not handed to an external handler but to the
// Pipeline Engine").
type Dispatcher struct {
	handlers map[string]Handler
}

// New builds an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register binds a normalised action token to a handler. Registering
// the same token twice replaces the previous handler.
func (d *Dispatcher) Register(action string, handler Handler) {
	d.handlers[action] = handler
}

// Dispatch invokes the handler registered for action with configPath.
// An unrecognised token fails with UnknownAction (spec §4.1).
func (d *Dispatcher) Dispatch(action, configPath string) error {
	handler, ok := d.handlers[action]
	if !ok {
		return &UnknownActionError{Action: action}
	}
	return handler(configPath)
}

// UnknownActionError reports an action token with no registered handler.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("dispatcher: unknown action %q", e.Action)
}
