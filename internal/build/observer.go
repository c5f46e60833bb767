// SPDX-License-Identifier: MPL-2.0

package build

import (
	"time"

	"github.com/tapforge/tapforge/pkg/recipe"
)

type (
	// Event is one state transition.
	Event struct {
		Package recipe.PackageName
		From    State
		To      State
		// Err is set on transitions into Failed, Skipped and TestFailed.
		Err  error
		Time time.Time
	}

	// Observer receives transitions. Calls are serialized by the executor.
	Observer interface {
		Observe(Event)
	}

	// ObserverFunc adapts a function to Observer.
	ObserverFunc func(Event)
)

// Observe implements Observer.
func (f ObserverFunc) Observe(e Event) { f(e) }
