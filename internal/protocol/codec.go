package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/cory-johannsen/crawld/internal/game"
)

// ErrUnknownAction reports an action_type with no registered factory.
var ErrUnknownAction = errors.New("unknown action type")

// ActionFactory builds a game action from its wire params.
type ActionFactory func(params json.RawMessage) (game.Action, error)

// Codec maps wire action types to game actions through a registrable factory
// table. New action types plug in with Register; decoding never needs to
// change. Safe for concurrent use.
type Codec struct {
	mu        sync.RWMutex
	factories map[string]ActionFactory
}

// NewCodec creates an empty codec.
func NewCodec() *Codec {
	return &Codec{
		factories: make(map[string]ActionFactory),
	}
}

// Register adds a factory for an action type.
//
// Precondition: actionType must be non-empty and factory non-nil.
// Postcondition: Returns an error if the action type is already registered.
func (c *Codec) Register(actionType string, factory ActionFactory) error {
	if actionType == "" {
		return errors.New("action type must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory for action type %q must not be nil", actionType)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.factories[actionType]; exists {
		return fmt.Errorf("duplicate action type: %q", actionType)
	}
	c.factories[actionType] = factory
	return nil
}

// MustRegister is Register for startup wiring, where a collision is a
// programming error.
func (c *Codec) MustRegister(actionType string, factory ActionFactory) {
	if err := c.Register(actionType, factory); err != nil {
		panic(fmt.Sprintf("registering action %q: %v", actionType, err))
	}
}

// Decode resolves an action type and builds the action from its params.
//
// Postcondition: Returns ErrUnknownAction (wrapped) if no factory is
// registered for the type.
func (c *Codec) Decode(actionType string, params json.RawMessage) (game.Action, error) {
	c.mu.RLock()
	factory, ok := c.factories[actionType]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, actionType)
	}
	action, err := factory(params)
	if err != nil {
		return nil, fmt.Errorf("building action %q: %w", actionType, err)
	}
	return action, nil
}

// Types returns the registered action types, sorted.
func (c *Codec) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	types := make([]string, 0, len(c.factories))
	for t := range c.factories {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
