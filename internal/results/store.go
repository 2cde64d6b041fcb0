// Package results persists the outcome of finished practice sessions.
//
// Two backends are provided: [FileStore] appends JSON lines to a local file,
// suitable for a single learner on one machine, and [PostgresStore] keeps
// results in a PostgreSQL table. [Discard] drops everything.
package results

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/vocaledge/pkg/types"
)

// Store persists session results and lists recent ones.
type Store interface {
	// Save persists r. Saving a result whose ID already exists replaces it.
	Save(ctx context.Context, r *types.SessionResult) error

	// Recent returns up to limit results, newest first. A limit <= 0 returns
	// all results.
	Recent(ctx context.Context, limit int) ([]types.SessionResult, error)
}

// validate checks the fields every backend relies on.
func validate(r *types.SessionResult) error {
	if r == nil {
		return errors.New("results: nil result")
	}
	if r.ID == "" {
		return errors.New("results: result has no id")
	}
	if r.Date.IsZero() {
		return fmt.Errorf("results: result %q has no date", r.ID)
	}
	return nil
}

// Discard is a [Store] that keeps nothing.
type Discard struct{}

var _ Store = Discard{}

// Save implements [Store].
func (Discard) Save(context.Context, *types.SessionResult) error { return nil }

// Recent implements [Store].
func (Discard) Recent(context.Context, int) ([]types.SessionResult, error) { return nil, nil }
