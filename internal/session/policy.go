package session

import (
	"fmt"
	"log/slog"

	"github.com/accelara/gamedl/internal/model"
)

// FailurePolicy decides what a failed step does to its caller.
type FailurePolicy int

const (
	// Propagate returns the failure to the caller of the command.
	Propagate FailurePolicy = iota
	// BestEffort logs the failure and continues as if the step succeeded.
	BestEffort
)

// Handle applies the policy to err raised by op on game id.
func (p FailurePolicy) Handle(log *slog.Logger, op string, id model.GameID, err error) error {
	if err == nil {
		return nil
	}
	switch p {
	case BestEffort:
		log.Warn("best-effort step failed", "op", op, "game_id", id, "error", err)
		return nil
	case Propagate:
	}
	return fmt.Errorf("%s game %d: %w", op, id, err)
}
