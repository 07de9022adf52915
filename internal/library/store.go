// Package library persists the game catalogue in a bbolt database.
package library

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/accelara/gamedl/internal/model"
)

var gamesBucket = []byte("games")

// ErrNotFound is returned for unknown game ids.
var ErrNotFound = errors.New("game not found")

// Store is the on-disk game catalogue.
type Store struct {
	db *bolt.DB

	mu       sync.RWMutex
	snapshot []model.Game
	onChange func([]model.Game)
}

// Open opens or creates the catalogue at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open library %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(gamesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init library: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// OnChange registers fn to receive the catalogue after every refresh.
func (s *Store) OnChange(fn func([]model.Game)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func key(id model.GameID) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

// Upsert returns the game catalogued for identity, creating it when the
// object id and shop are new. The stored identity is replaced by the new
// one.
func (s *Store) Upsert(identity model.Identity) (model.Game, error) {
	var game model.Game
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(gamesBucket)
		found := false
		err := b.ForEach(func(k, v []byte) error {
			if found {
				return nil
			}
			var g model.Game
			if err := json.Unmarshal(v, &g); err != nil {
				return err
			}
			if g.Identity.SameGame(identity) {
				game = g
				found = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if !found {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			game = model.Game{ID: model.GameID(seq)}
		}
		game.Identity = identity
		return put(b, game)
	})
	if err != nil {
		return model.Game{}, fmt.Errorf("upsert %q: %w", identity.Title, err)
	}
	return game, nil
}

func put(b *bolt.Bucket, g model.Game) error {
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	return b.Put(key(g.ID), data)
}

// Get loads one game.
func (s *Store) Get(id model.GameID) (model.Game, error) {
	var g model.Game
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(gamesBucket).Get(key(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &g)
	})
	if err != nil {
		return model.Game{}, fmt.Errorf("get game %d: %w", id, err)
	}
	return g, nil
}

// Save overwrites an existing game.
func (s *Store) Save(g model.Game) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(gamesBucket)
		if b.Get(key(g.ID)) == nil {
			return ErrNotFound
		}
		return put(b, g)
	})
	if err != nil {
		return fmt.Errorf("save game %d: %w", g.ID, err)
	}
	return nil
}

// Remove deletes a game from the catalogue.
func (s *Store) Remove(id model.GameID) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(gamesBucket)
		if b.Get(key(id)) == nil {
			return ErrNotFound
		}
		return b.Delete(key(id))
	})
	if err != nil {
		return fmt.Errorf("remove game %d: %w", id, err)
	}
	return nil
}

// List returns every catalogued game ordered by id.
func (s *Store) List() ([]model.Game, error) {
	var games []model.Game
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(gamesBucket).ForEach(func(_, v []byte) error {
			var g model.Game
			if err := json.Unmarshal(v, &g); err != nil {
				return err
			}
			games = append(games, g)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	return games, nil
}

// UpdateLibrary reloads the cached catalogue and notifies the listener.
func (s *Store) UpdateLibrary(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	games, err := s.List()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.snapshot = games
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(games)
	}
	return nil
}

// Games returns the catalogue as of the last UpdateLibrary.
func (s *Store) Games() []model.Game {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Game(nil), s.snapshot...)
}
