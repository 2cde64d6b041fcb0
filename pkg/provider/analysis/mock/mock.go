// Package mock provides a test double for analysis.Provider.
//
// Each method returns its configured result or error and records the call.
// Set the *Func hooks to compute results dynamically.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vocaledge/pkg/provider/analysis"
	"github.com/MrWong99/vocaledge/pkg/types"
)

// ScoreCall records a single invocation of ScorePronunciation.
type ScoreCall struct {
	Target   string
	PCM      []byte
	Language types.Language
}

// SynthesizeCall records a single invocation of SynthesizeSpeech.
type SynthesizeCall struct {
	Text     string
	Language types.Language
}

// Provider is a mock implementation of analysis.Provider.
type Provider struct {
	mu sync.Mutex

	// Analysis and AnalyzeErr are returned by AnalyzeSession.
	Analysis   *analysis.SessionAnalysis
	AnalyzeErr error

	// Score and ScoreErr are returned by ScorePronunciation.
	Score    *analysis.PronunciationScore
	ScoreErr error

	// Speech and SpeechErr are returned by SynthesizeSpeech.
	Speech    []byte
	SpeechErr error

	// SynthesizeFunc, if set, replaces Speech/SpeechErr. It runs without the
	// mock's lock held, so it may block on ctx.
	SynthesizeFunc func(ctx context.Context, text string, lang types.Language) ([]byte, error)

	AnalyzeCalls    []analysis.SessionRequest
	ScoreCalls      []ScoreCall
	SynthesizeCalls []SynthesizeCall
}

// AnalyzeSession records the call and returns Analysis, AnalyzeErr.
func (p *Provider) AnalyzeSession(_ context.Context, req analysis.SessionRequest) (*analysis.SessionAnalysis, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AnalyzeCalls = append(p.AnalyzeCalls, req)
	if p.AnalyzeErr != nil {
		return nil, p.AnalyzeErr
	}
	return p.Analysis, nil
}

// ScorePronunciation records the call and returns Score, ScoreErr.
func (p *Provider) ScorePronunciation(_ context.Context, target string, pcm []byte, lang types.Language) (*analysis.PronunciationScore, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ScoreCalls = append(p.ScoreCalls, ScoreCall{Target: target, PCM: append([]byte(nil), pcm...), Language: lang})
	if p.ScoreErr != nil {
		return nil, p.ScoreErr
	}
	return p.Score, nil
}

// SynthesizeSpeech records the call and returns Speech, SpeechErr, or defers
// to SynthesizeFunc.
func (p *Provider) SynthesizeSpeech(ctx context.Context, text string, lang types.Language) ([]byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Language: lang})
	fn := p.SynthesizeFunc
	speech, err := p.Speech, p.SpeechErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, lang)
	}
	return speech, err
}

// Calls returns the number of calls per method. Thread-safe.
func (p *Provider) Calls() (analyze, score, synthesize int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.AnalyzeCalls), len(p.ScoreCalls), len(p.SynthesizeCalls)
}

var _ analysis.Provider = (*Provider)(nil)
