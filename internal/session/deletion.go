package session

import (
	"context"
	"errors"
	"strconv"

	"github.com/accelara/gamedl/internal/engine"
	"github.com/accelara/gamedl/internal/model"
)

// DeleteGame cancels the download and then removes its files. It never
// fails: removal is best effort and the deleting flag is cleared on every
// path. Callers must check the library to learn whether files are gone.
// Concurrent calls for the same game share one execution.
func (c *Coordinator) DeleteGame(ctx context.Context, id model.GameID) {
	c.removals.Do(removalKey(id), func() (interface{}, error) {
		c.removeGame(ctx, id, true)
		return nil, nil
	})
}

// RemoveInstallationFolder removes the files of a download that is
// already stopped. Active downloads are left untouched.
func (c *Coordinator) RemoveInstallationFolder(ctx context.Context, id model.GameID) {
	c.removals.Do(removalKey(id), func() (interface{}, error) {
		c.removeGame(ctx, id, false)
		return nil, nil
	})
}

// IsGameDeleting reports whether files of id are being removed.
func (c *Coordinator) IsGameDeleting(id model.GameID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.deleting[id]
	return ok
}

func (c *Coordinator) removeGame(ctx context.Context, id model.GameID, cancelFirst bool) {
	defer c.refreshLibrary()

	release, err := c.acquire(ctx)
	if err != nil {
		_ = BestEffort.Handle(c.log, "delete", id, err)
		return
	}
	defer release()

	if cancelFirst {
		if err := c.cancelLocked(ctx, id); err != nil {
			_ = BestEffort.Handle(c.log, "cancel before delete", id, err)
			return
		}
	} else if st := c.Status(id); st.IsActive() {
		c.log.Warn("folder removal ignored for active download", "game_id", id, "status", st.String())
		return
	}

	c.setDeleting(id, true)
	defer c.setDeleting(id, false)

	err = c.engine.RemoveFiles(ctx, id)
	if errors.Is(err, engine.ErrNotFound) {
		err = nil
	}
	if err == nil {
		c.log.Info("game files removed", "game_id", id)
	}
	_ = BestEffort.Handle(c.log, "remove files", id, err)
}

func (c *Coordinator) setDeleting(id model.GameID, deleting bool) {
	c.mu.Lock()
	if deleting {
		c.deleting[id] = struct{}{}
	} else {
		delete(c.deleting, id)
	}
	c.mu.Unlock()
	c.stream.Notify()
}

func removalKey(id model.GameID) string {
	return strconv.FormatInt(int64(id), 10)
}
