package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/vocaledge/pkg/audio"
	"github.com/MrWong99/vocaledge/pkg/provider/analysis"
	"github.com/MrWong99/vocaledge/pkg/provider/s2s"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	s2s      map[string]func(ProviderEntry) (s2s.Provider, error)
	analysis map[string]func(ProviderEntry) (analysis.Provider, error)
	audio    map[string]func(AudioConfig) (audio.Device, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		s2s:      make(map[string]func(ProviderEntry) (s2s.Provider, error)),
		analysis: make(map[string]func(ProviderEntry) (analysis.Provider, error)),
		audio:    make(map[string]func(AudioConfig) (audio.Device, error)),
	}
}

// RegisterS2S registers a conversational agent factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterS2S(name string, factory func(ProviderEntry) (s2s.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s2s[name] = factory
}

// RegisterAnalysis registers an analysis provider factory under name.
func (r *Registry) RegisterAnalysis(name string, factory func(ProviderEntry) (analysis.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analysis[name] = factory
}

// RegisterAudio registers an audio device factory under name.
func (r *Registry) RegisterAudio(name string, factory func(AudioConfig) (audio.Device, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateS2S instantiates a conversational agent using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) CreateS2S(entry ProviderEntry) (s2s.Provider, error) {
	r.mu.RLock()
	factory, ok := r.s2s[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: s2s/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAnalysis instantiates an analysis provider using the factory
// registered under entry.Name.
func (r *Registry) CreateAnalysis(entry ProviderEntry) (analysis.Provider, error) {
	r.mu.RLock()
	factory, ok := r.analysis[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: analysis/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAudio opens the audio device registered under cfg.Device.
func (r *Registry) CreateAudio(cfg AudioConfig) (audio.Device, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Device]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, cfg.Device)
	}
	return factory(cfg)
}
