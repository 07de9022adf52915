// Package engine defines the contract between the session coordinator and a
// transfer engine implementation.
package engine

import (
	"context"
	"errors"

	"github.com/accelara/gamedl/internal/model"
)

var (
	// ErrEngineUnavailable means the transfer engine cannot be reached.
	ErrEngineUnavailable = errors.New("transfer engine unavailable")
	// ErrNotFound means the engine does not know the download.
	ErrNotFound = errors.New("download not found")
	// ErrIOFailure means removing files from disk failed.
	ErrIOFailure = errors.New("filesystem failure")
)

// Sink receives packets emitted by an engine. Publish must not block.
type Sink interface {
	Publish(model.Packet)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(model.Packet)

// Publish calls f(p).
func (f SinkFunc) Publish(p model.Packet) { f(p) }

// Engine is the transfer engine adapter. Cancel is idempotent and
// RemoveFiles succeeds when nothing is left on disk.
type Engine interface {
	Start(ctx context.Context, id model.Identity, sink Sink) (model.Game, error)
	Pause(ctx context.Context, id model.GameID) error
	Resume(ctx context.Context, id model.GameID) error
	Cancel(ctx context.Context, id model.GameID) error
	RemoveFiles(ctx context.Context, id model.GameID) error
	RemoveFromLibrary(ctx context.Context, id model.GameID) error
}
