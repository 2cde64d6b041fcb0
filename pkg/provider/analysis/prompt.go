package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"text/template"

	"github.com/MrWong99/vocaledge/pkg/types"
)

var sessionTmpl = template.Must(template.New("session").Parse(
	`Analyze this conversation where the user interacted with "{{.Persona}}". {{.ToneInstruction}}
{{- with .Profile}}
The learner is {{.Name}}.{{with .Goal}} Their goal: {{.}}.{{end}}
{{- end}}

EVALUATE ON: {{.Skills}}.

Format output in JSON:
- confidenceScore (0-100)
- effectivenessScore (0-100)
- feedback (detailed critique or encouragement, written in {{.LanguageName}})
- skillScores (array of {skill, score 0-100}, one per focus skill)
- keyFailures (array - or key achievements/growth points if supportive)
- troubleWords (array: {word, phonetic, tips})

History:
{{.Transcript}}`))

const (
	supportiveInstruction = "Provide a supportive, encouraging analysis highlighting their effort to open up and be expressive."
	brutalInstruction     = "Provide a brutal, unfiltered analysis pointing out failures and weaknesses."
)

// EffectiveTone returns cfg.Tone, or the tone implied by the persona when
// unset.
func EffectiveTone(cfg types.SessionConfig) types.Tone {
	if cfg.Tone != "" {
		return cfg.Tone
	}
	if cfg.Persona.Warm {
		return types.ToneSupportive
	}
	return types.ToneBrutal
}

// LanguageName returns the English name of lang for use inside prompts.
func LanguageName(lang types.Language) string {
	switch lang {
	case types.LanguageArabicMSA:
		return "Modern Standard Arabic"
	case types.LanguageArabicGulf:
		return "Gulf Arabic"
	default:
		return "English"
	}
}

// SessionPrompt renders the grading prompt for req.
func SessionPrompt(req SessionRequest) (string, error) {
	instruction := brutalInstruction
	if EffectiveTone(req.Config) == types.ToneSupportive {
		instruction = supportiveInstruction
	}
	skills := strings.Join(req.Config.FocusSkills, ", ")
	if skills == "" {
		skills = "confidence, clarity"
	}

	var buf bytes.Buffer
	err := sessionTmpl.Execute(&buf, struct {
		Persona         string
		ToneInstruction string
		Profile         *types.UserProfile
		Skills          string
		LanguageName    string
		Transcript      string
	}{
		Persona:         req.Config.Persona.Name,
		ToneInstruction: instruction,
		Profile:         req.Profile,
		Skills:          skills,
		LanguageName:    LanguageName(req.Language),
		Transcript:      req.Transcript,
	})
	if err != nil {
		return "", fmt.Errorf("analysis: render session prompt: %w", err)
	}
	return buf.String(), nil
}

// PronunciationPrompt renders the scoring prompt for an attempt at target.
func PronunciationPrompt(target string) string {
	return fmt.Sprintf(`Analyze this audio of a user attempting to pronounce the word/phrase: %q.
Return JSON: { "score": number 0-100, "feedback": string, "needsCorrection": boolean }`, target)
}

// SpeechPrompt is the instruction used when a model renders target as speech.
func SpeechPrompt(text string) string {
	return "Say this clearly: " + text
}

type rawSkillScore struct {
	Skill string  `json:"skill"`
	Score float64 `json:"score"`
}

type rawTroubleWord struct {
	Word     string          `json:"word"`
	Phonetic string          `json:"phonetic"`
	Tips     json.RawMessage `json:"tips"`
}

type rawSessionAnalysis struct {
	ConfidenceScore    float64          `json:"confidenceScore"`
	EffectivenessScore float64          `json:"effectivenessScore"`
	Feedback           string           `json:"feedback"`
	SkillScores        json.RawMessage  `json:"skillScores"`
	KeyFailures        []string         `json:"keyFailures"`
	TroubleWords       []rawTroubleWord `json:"troubleWords"`
}

// ParseSessionAnalysis decodes a model's JSON answer. Scores are rounded and
// clamped to [0, 100]. skillScores may be either an object of skill → score
// or an array of {skill, score}; per-word tips may be a string or an object
// keyed by language, in which case the entry for lang wins.
func ParseSessionAnalysis(data []byte, lang types.Language) (*SessionAnalysis, error) {
	var raw rawSessionAnalysis
	if err := json.Unmarshal(stripFences(data), &raw); err != nil {
		return nil, fmt.Errorf("analysis: decode session analysis: %w", err)
	}

	out := &SessionAnalysis{
		ConfidenceScore:    score(raw.ConfidenceScore),
		EffectivenessScore: score(raw.EffectivenessScore),
		Feedback:           raw.Feedback,
		KeyFailures:        raw.KeyFailures,
		SkillScores:        map[string]int{},
	}

	if len(raw.SkillScores) > 0 && string(raw.SkillScores) != "null" {
		var asMap map[string]float64
		var asList []rawSkillScore
		switch {
		case json.Unmarshal(raw.SkillScores, &asMap) == nil:
			for k, v := range asMap {
				out.SkillScores[k] = score(v)
			}
		case json.Unmarshal(raw.SkillScores, &asList) == nil:
			for _, s := range asList {
				if s.Skill != "" {
					out.SkillScores[s.Skill] = score(s.Score)
				}
			}
		default:
			return nil, fmt.Errorf("analysis: decode skillScores: unsupported shape %s", raw.SkillScores)
		}
	}

	for _, tw := range raw.TroubleWords {
		if tw.Word == "" {
			continue
		}
		out.TroubleWords = append(out.TroubleWords, types.TroubleWord{
			Word:     tw.Word,
			Phonetic: tw.Phonetic,
			Tips:     tips(tw.Tips, lang),
		})
	}
	return out, nil
}

// ParsePronunciationScore decodes a model's JSON pronunciation verdict.
func ParsePronunciationScore(data []byte) (*PronunciationScore, error) {
	var raw struct {
		Score           float64 `json:"score"`
		Feedback        string  `json:"feedback"`
		NeedsCorrection bool    `json:"needsCorrection"`
	}
	if err := json.Unmarshal(stripFences(data), &raw); err != nil {
		return nil, fmt.Errorf("analysis: decode pronunciation score: %w", err)
	}
	return &PronunciationScore{
		Score:           score(raw.Score),
		Feedback:        raw.Feedback,
		NeedsCorrection: raw.NeedsCorrection,
	}, nil
}

func tips(raw json.RawMessage, lang types.Language) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var byLang map[string]string
	if json.Unmarshal(raw, &byLang) != nil {
		return ""
	}
	if t, ok := byLang[string(lang)]; ok {
		return t
	}
	if t, ok := byLang[string(types.LanguageEnglish)]; ok {
		return t
	}
	for _, t := range byLang {
		return t
	}
	return ""
}

func score(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, v))))
}

// stripFences removes a surrounding ```json … ``` block that some models add
// even in JSON mode.
func stripFences(data []byte) []byte {
	s := bytes.TrimSpace(data)
	if !bytes.HasPrefix(s, []byte("```")) {
		return s
	}
	s = s[3:]
	if nl := bytes.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = bytes.TrimSuffix(bytes.TrimSpace(s), []byte("```"))
	return bytes.TrimSpace(s)
}
