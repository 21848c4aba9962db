package session

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
)

var allowedTransitions = map[types.State][]types.State{
	types.StateStarting: {types.StateReady, types.StateClosing},
	types.StateReady:    {types.StateActive, types.StateClosing},
	types.StateActive:   {types.StatePaused, types.StateClosing},
	types.StatePaused:   {types.StateActive, types.StateClosing},
	types.StateClosing:  {types.StateStopped},
}

// canTransition reports whether from -> to is a legal lifecycle step
func canTransition(from, to types.State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func invalidTransition(op string, from types.State) error {
	return fmt.Errorf("%w: cannot %s a %s session", errs.ErrInvalidTransition, op, from)
}
