package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/vocaledge/pkg/provider/analysis"
	"github.com/MrWong99/vocaledge/pkg/types"
)

// AnalysisFallback implements [analysis.Provider] with failover across several
// backends. An entry that answers [analysis.ErrNotSupported] is skipped
// without being penalised.
type AnalysisFallback struct {
	group *FallbackGroup[analysis.Provider]
}

var _ analysis.Provider = (*AnalysisFallback)(nil)

// NewAnalysisFallback creates an [AnalysisFallback] with primary preferred.
func NewAnalysisFallback(primary analysis.Provider, primaryName string, cfg FallbackConfig) *AnalysisFallback {
	if cfg.Ignore == nil {
		cfg.Ignore = func(err error) bool { return errors.Is(err, analysis.ErrNotSupported) }
	}
	return &AnalysisFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *AnalysisFallback) AddFallback(name string, p analysis.Provider) {
	f.group.AddFallback(name, p)
}

// Status reports each backend's breaker state.
func (f *AnalysisFallback) Status() []EntryStatus { return f.group.Status() }

// AnalyzeSession implements analysis.Provider.
func (f *AnalysisFallback) AnalyzeSession(ctx context.Context, req analysis.SessionRequest) (*analysis.SessionAnalysis, error) {
	return ExecuteWithResult(ctx, f.group, func(p analysis.Provider) (*analysis.SessionAnalysis, error) {
		return p.AnalyzeSession(ctx, req)
	})
}

// ScorePronunciation implements analysis.Provider.
func (f *AnalysisFallback) ScorePronunciation(ctx context.Context, target string, pcm []byte, lang types.Language) (*analysis.PronunciationScore, error) {
	return ExecuteWithResult(ctx, f.group, func(p analysis.Provider) (*analysis.PronunciationScore, error) {
		return p.ScorePronunciation(ctx, target, pcm, lang)
	})
}

// SynthesizeSpeech implements analysis.Provider.
func (f *AnalysisFallback) SynthesizeSpeech(ctx context.Context, text string, lang types.Language) ([]byte, error) {
	return ExecuteWithResult(ctx, f.group, func(p analysis.Provider) ([]byte, error) {
		return p.SynthesizeSpeech(ctx, text, lang)
	})
}
