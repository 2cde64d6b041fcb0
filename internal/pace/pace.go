// Package pace stores the learner's preferred playback speed for synthesized
// speech and maps it to the multiplier applied by the audio pipeline.
//
// Reads ([Controller.Multiplier], [Controller.Settings]) are lock-free: the
// current settings are an immutable value behind an atomic pointer, replaced
// wholesale on every change. Persistence is best-effort: storage failures are
// logged and never prevent an in-memory change from taking effect.
package pace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/vocaledge/internal/kvstore"
)

// StorageKey is the key under which settings are persisted.
const StorageKey = "vocaledge_pace_settings"

// ErrInvalidPace is returned by SetPace for unknown pace names.
var ErrInvalidPace = errors.New("pace: invalid pace")

// Pace is a named playback speed.
type Pace string

const (
	Slow   Pace = "slow"
	Normal Pace = "normal"
	Fast   Pace = "fast"
)

var multipliers = map[Pace]float64{
	Slow:   0.8,
	Normal: 1.0,
	Fast:   1.2,
}

// Multiplier returns the playback-rate factor for p, or 0 if p is unknown.
func (p Pace) Multiplier() float64 { return multipliers[p] }

// IsValid reports whether p is one of Slow, Normal, Fast.
func (p Pace) IsValid() bool {
	_, ok := multipliers[p]
	return ok
}

// Settings is the persisted pace preference.
type Settings struct {
	CurrentPace           Pace    `json:"currentPace"`
	Multiplier            float64 `json:"paceMultiplier"`
	PersistAcrossSessions bool    `json:"persistAcrossSessions"`
}

// Default returns {normal, 1.0, persist}.
func Default() Settings {
	return Settings{CurrentPace: Normal, Multiplier: 1.0, PersistAcrossSessions: true}
}

// Controller owns the pace preference.
type Controller struct {
	store kvstore.Store

	// writeMu serialises writers so that a persisted value always matches
	// the in-memory one that was published last.
	writeMu sync.Mutex
	current atomic.Pointer[Settings]
}

// New loads persisted settings from store, falling back to [Default] when
// nothing is stored or the stored value is malformed. A nil store keeps the
// preference in memory only.
func New(ctx context.Context, store kvstore.Store) *Controller {
	c := &Controller{store: store}
	s := c.load(ctx)
	c.current.Store(&s)
	return c
}

// CurrentPace returns the active pace name.
func (c *Controller) CurrentPace() Pace { return c.current.Load().CurrentPace }

// Multiplier returns the active playback-rate factor.
func (c *Controller) Multiplier() float64 { return c.current.Load().Multiplier }

// Settings returns a copy of the active settings.
func (c *Controller) Settings() Settings { return *c.current.Load() }

// SetPace switches to p. The only error is [ErrInvalidPace]; persistence
// failures are logged.
func (c *Controller) SetPace(ctx context.Context, p Pace) error {
	if !p.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidPace, p)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	next := *c.current.Load()
	next.CurrentPace = p
	next.Multiplier = p.Multiplier()
	c.current.Store(&next)
	c.save(ctx, next)
	return nil
}

// SetPersistence toggles cross-session persistence. Disabling it removes any
// stored value; enabling it writes the current settings immediately.
func (c *Controller) SetPersistence(ctx context.Context, persist bool) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	next := *c.current.Load()
	next.PersistAcrossSessions = persist
	c.current.Store(&next)

	if persist {
		c.save(ctx, next)
		return
	}
	if c.store == nil {
		return
	}
	if err := c.store.Delete(ctx, StorageKey); err != nil {
		slog.Warn("pace: failed to remove stored settings", "err", err)
	}
}

// ResetToDefault restores [Default] and persists it.
func (c *Controller) ResetToDefault(ctx context.Context) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	s := Default()
	c.current.Store(&s)
	c.save(ctx, s)
}

func (c *Controller) load(ctx context.Context) Settings {
	if c.store == nil {
		return Default()
	}
	raw, err := c.store.Get(ctx, StorageKey)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			slog.Warn("pace: failed to load settings, using defaults", "err", err)
		}
		return Default()
	}
	s, err := decode(raw)
	if err != nil {
		slog.Warn("pace: stored settings are invalid, using defaults", "err", err)
		return Default()
	}
	return s
}

func (c *Controller) save(ctx context.Context, s Settings) {
	if c.store == nil || !s.PersistAcrossSessions {
		return
	}
	raw, err := json.Marshal(s)
	if err != nil {
		slog.Warn("pace: failed to encode settings", "err", err)
		return
	}
	if err := c.store.Set(ctx, StorageKey, raw); err != nil {
		slog.Warn("pace: failed to persist settings", "err", err)
	}
}

// decode parses and validates a stored settings blob. All three fields must
// be present with the right types.
func decode(raw []byte) (Settings, error) {
	var stored struct {
		CurrentPace           *Pace    `json:"currentPace"`
		Multiplier            *float64 `json:"paceMultiplier"`
		PersistAcrossSessions *bool    `json:"persistAcrossSessions"`
	}
	if err := json.Unmarshal(raw, &stored); err != nil {
		return Settings{}, err
	}
	if stored.CurrentPace == nil || !stored.CurrentPace.IsValid() {
		return Settings{}, fmt.Errorf("%w in stored settings", ErrInvalidPace)
	}
	if stored.Multiplier == nil || stored.PersistAcrossSessions == nil {
		return Settings{}, errors.New("pace: incomplete stored settings")
	}
	return Settings{
		CurrentPace:           *stored.CurrentPace,
		Multiplier:            *stored.Multiplier,
		PersistAcrossSessions: *stored.PersistAcrossSessions,
	}, nil
}
