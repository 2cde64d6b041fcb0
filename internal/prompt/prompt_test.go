package prompt

import (
	"strings"
	"testing"

	"github.com/MrWong99/vocaledge/pkg/types"
)

func TestSystemInstruction_Tough(t *testing.T) {
	t.Parallel()
	cfg := types.SessionConfig{
		Scenario: types.ScenarioDebate,
		Persona: types.Persona{
			Name:        "Wade",
			Role:        "Debate opponent",
			Description: "Sarcastic and quick.",
			Behavior:    "- BE ROASTY: mock weak arguments.\n\n- BREAK THE FOURTH WALL occasionally.",
		},
		Topic:       "remote work",
		Outcome:     "win the argument",
		FocusSkills: []string{"logic", "composure"},
	}
	got := SystemInstruction(cfg, types.LanguageEnglish)

	for _, want := range []string{
		"You are playing the role of Wade (Debate opponent).",
		"Personality: Sarcastic and quick.",
		`Context: The user is talking to you about "remote work".`,
		`Their goal is to "win the argument".`,
		"Speak in clear American English.",
		"- BE ROASTY: mock weak arguments.\n- BREAK THE FOURTH WALL occasionally.",
		"Focus your behavior especially on testing their logic, composure.",
		"Do not sugarcoat.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("instruction missing %q\n---\n%s", want, got)
		}
	}
	if strings.Contains(got, "YOUR ESSENCE") {
		t.Error("tough instruction contains the warm variant")
	}
}

func TestSystemInstruction_Warm(t *testing.T) {
	t.Parallel()
	cfg := types.SessionConfig{
		Persona:     types.Persona{Name: "Sara", Role: "Friendly listener", Warm: true},
		Topic:       "my weekend",
		FocusSkills: []string{"openness"},
	}
	got := SystemInstruction(cfg, types.LanguageArabicGulf)

	for _, want := range []string{
		"You are Sara, a Friendly listener.",
		"YOUR ESSENCE",
		`The user chose to talk about "my weekend".`,
		"- " + LanguageInstruction(types.LanguageArabicGulf),
		"Reward their progress in: openness.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("instruction missing %q\n---\n%s", want, got)
		}
	}
	if strings.Contains(got, "CORE BEHAVIOR") {
		t.Error("warm instruction contains the tough variant")
	}
}

func TestSystemInstruction_OmitsEmptySections(t *testing.T) {
	t.Parallel()
	got := SystemInstruction(types.SessionConfig{}, types.LanguageArabicMSA)
	for _, unwanted := range []string{"Personality:", "Their goal is", "Focus your behavior"} {
		if strings.Contains(got, unwanted) {
			t.Errorf("instruction contains %q for an empty config\n---\n%s", unwanted, got)
		}
	}
	if !strings.Contains(got, "a conversation partner") {
		t.Errorf("missing persona fallback\n---\n%s", got)
	}
	if !strings.Contains(got, LanguageInstruction(types.LanguageArabicMSA)) {
		t.Errorf("missing MSA instruction\n---\n%s", got)
	}
}

func TestLanguageInstruction(t *testing.T) {
	t.Parallel()
	tests := []struct {
		lang types.Language
		want string
	}{
		{types.LanguageEnglish, "Speak in clear American English."},
		{types.LanguageArabicMSA, "تحدث باللغة العربية الفصحى الحديثة فقط."},
		{types.LanguageArabicGulf, "تحدث بلهجة خليجية بيضاء (إماراتية/سعودية)."},
		{"fr", "Speak in clear American English."},
	}
	for _, tt := range tests {
		if got := LanguageInstruction(tt.lang); got != tt.want {
			t.Errorf("LanguageInstruction(%q) = %q, want %q", tt.lang, got, tt.want)
		}
	}
}
