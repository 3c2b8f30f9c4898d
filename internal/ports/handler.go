// Package ports defines the core interfaces that form the contract between
// the domain/application layers and the infrastructure layer.
// These interfaces enable dependency inversion and make the system testable.
package ports

import (
	"context"
)

// TriggerHandler is the fundamental building block of the pipeline.
// Each TriggerHandler reacts to writes in one watched collection, turning a
// ChangeEvent into derived documents such as leaderboards or notifications.
// Handlers must be stateless and safe to re-run, since change feeds deliver
// at least once.
type TriggerHandler interface {
	// Name returns a unique identifier for this handler.
	// The name is used for logging, metrics labels and registration.
	Name() string

	// Collection returns the collection whose writes the handler consumes.
	Collection() string

	// Handle processes one change event. Recoverable per-record failures
	// should be absorbed and logged by the handler; a returned error means
	// the whole invocation failed.
	//
	// The context parameter allows for cancellation and deadline propagation.
	// Handlers should respect context cancellation and return promptly.
	//
	// Example:
	//
	//	if err := handler.Handle(ctx, event); err != nil {
	//	    return fmt.Errorf("handler %s failed: %w", handler.Name(), err)
	//	}
	Handle(ctx context.Context, event ChangeEvent) error

	// Validate checks if the handler is properly configured and ready to run.
	// It is called when the handler is registered with a dispatcher.
	Validate() error
}
