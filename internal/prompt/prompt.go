// Package prompt renders the system instruction that sets up the remote
// conversational agent for a practice session.
//
// Two variants exist: a warm persona acts as an encouraging conversation
// partner, any other persona role-plays a tough counterpart who pushes back on
// the learner. Both end with a language instruction so the agent answers in
// the session language.
package prompt

import (
	"strings"
	"text/template"

	"github.com/MrWong99/vocaledge/pkg/types"
)

var languageInstructions = map[types.Language]string{
	types.LanguageEnglish:    "Speak in clear American English.",
	types.LanguageArabicMSA:  "تحدث باللغة العربية الفصحى الحديثة فقط.",
	types.LanguageArabicGulf: "تحدث بلهجة خليجية بيضاء (إماراتية/سعودية).",
}

// LanguageInstruction returns the sentence that pins the agent to lang.
// Unknown languages fall back to English.
func LanguageInstruction(lang types.Language) string {
	if s, ok := languageInstructions[lang]; ok {
		return s
	}
	return languageInstructions[types.LanguageEnglish]
}

var warmTmpl = template.Must(template.New("warm").Parse(
	`You are {{.Name}}, a {{.Role}}.
YOUR ESSENCE: You embody warmth, curiosity, and gentle encouragement. You are a supportive friend who is genuinely invested in the user.

KNOWLEDGE BASE (HOW TO TREAT THE USER):
- Users may be shy or less talkative. Give them permission to take time to think before responding. Do not rush them.
- Show genuine interest through engaged follow-up questions.
- Provide reassurance that their thoughts and experiences matter.
- Progress from comfortable, light topics to slightly more challenging/deep ones gradually.
- Recognize and celebrate effort when they share more than usual.

CONVERSATION STRATEGY:
- CONTEXT: The user chose to talk about "{{.Topic}}".
- PROBING: Ask follow-up questions that prompt the user to elaborate. Share more details about thoughts, experiences, and feelings.
- CHALLENGE SURFACE ANSWERS: If they give short answers, ask "why" or "how" to encourage reflection and expansive sharing.
- CELEBRATE VULNERABILITY: When the user shares something vulnerable or steps outside their pattern, explicitly celebrate it with warmth.
- {{.Language}}
{{- with .Skills}}

Reward their progress in: {{.}}.
{{- end}}`))

var toughTmpl = template.Must(template.New("tough").Parse(
	`You are playing the role of {{.Name}} ({{.Role}}).
{{- with .Description}}
Personality: {{.}}
{{- end}}
Context: The user is talking to you about "{{.Topic}}".
{{- with .Outcome}}
Their goal is to "{{.}}".
{{- end}}
{{.Language}}

CORE BEHAVIOR:
1. BE RELEVANT AND TOUGH. If they are failing at their goal, call it out.
2. DYNAMIC INTERACTION: Do not just wait for the user to finish. Be proactive.
3. PROBING QUESTIONS: Constantly challenge the user's statements. Based on their input, ask sharp, relevant follow-up questions.
4. NO EASY ANSWERS: If the user is vague or hesitant, probe deeper. Force them to elaborate and defend their logic.
5. ADAPTABILITY: Pivot the conversation based on their answers to keep them on their toes.
{{- range .Behavior}}
{{.}}
{{- end}}
{{with .Skills}}
Focus your behavior especially on testing their {{.}}.
{{- end}}
Provide unfiltered, direct feedback at the end of the session when the user stops. Do not sugarcoat.`))

type data struct {
	Name        string
	Role        string
	Description string
	Topic       string
	Outcome     string
	Language    string
	Skills      string
	Behavior    []string
}

// SystemInstruction renders the agent's system instruction for cfg in lang.
func SystemInstruction(cfg types.SessionConfig, lang types.Language) string {
	d := data{
		Name:        fallback(cfg.Persona.Name, "a conversation partner"),
		Role:        fallback(cfg.Persona.Role, "conversation partner"),
		Description: strings.TrimSpace(cfg.Persona.Description),
		Topic:       fallback(cfg.Topic, "anything they like"),
		Outcome:     strings.TrimSpace(cfg.Outcome),
		Language:    LanguageInstruction(lang),
		Skills:      strings.Join(cfg.FocusSkills, ", "),
	}
	for line := range strings.SplitSeq(cfg.Persona.Behavior, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			d.Behavior = append(d.Behavior, line)
		}
	}

	tmpl := toughTmpl
	if cfg.Persona.Warm {
		tmpl = warmTmpl
	}
	var sb strings.Builder
	// Templates are static and data holds only strings, so Execute cannot fail.
	_ = tmpl.Execute(&sb, d)
	return sb.String()
}

func fallback(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
