package coaching

import (
	"fmt"

	"github.com/MrWong99/vocaledge/internal/suggestion"
	"github.com/MrWong99/vocaledge/pkg/types"
)

// Catalog supplies the text of coaching suggestions.
type Catalog interface {
	// Message returns the headline for a suggestion of type t. Scenario
	// overrides take precedence over the per-language default.
	Message(t suggestion.Type, lang types.Language, scenario types.ScenarioType) (string, error)

	// Tip returns the longer guidance shown when the learner expands a
	// suggestion.
	Tip(t suggestion.Type, lang types.Language) (string, error)
}

type scenarioKey struct {
	scenario types.ScenarioType
	typ      suggestion.Type
	lang     types.Language
}

// DefaultCatalog is the built-in message set for English, Modern Standard
// Arabic, and Gulf Arabic.
type DefaultCatalog struct{}

var _ Catalog = DefaultCatalog{}

var defaultMessages = map[suggestion.Type]map[types.Language]string{
	suggestion.TypeEnergy: {
		types.LanguageEnglish:    "Try speaking with more energy and enthusiasm",
		types.LanguageArabicMSA:  "حاول التحدث بطاقة وحماس أكبر",
		types.LanguageArabicGulf: "حاول تسولف بطاقة وحماس أكثر",
	},
	suggestion.TypePace: {
		types.LanguageEnglish:    "Slow down your speech for better clarity",
		types.LanguageArabicMSA:  "أبطئ من سرعة كلامك للوضوح أكثر",
		types.LanguageArabicGulf: "خفف من سرعة كلامك عشان يكون أوضح",
	},
	suggestion.TypePause: {
		types.LanguageEnglish:    "Take a moment to gather your thoughts",
		types.LanguageArabicMSA:  "خذ لحظة لتجميع أفكارك",
		types.LanguageArabicGulf: "خذ وقتك عشان تجمع أفكارك",
	},
	suggestion.TypeClarity: {
		types.LanguageEnglish:    "Focus on clear pronunciation",
		types.LanguageArabicMSA:  "ركز على النطق الواضح",
		types.LanguageArabicGulf: "ركز على النطق الواضح",
	},
	suggestion.TypeFiller: {
		types.LanguageEnglish:    "Try pausing instead of using filler words",
		types.LanguageArabicMSA:  "حاول التوقف بدلاً من استخدام كلمات الحشو",
		types.LanguageArabicGulf: "حاول تسكت بدال ما تقول كلمات زيادة",
	},
}

var scenarioMessages = map[scenarioKey]string{
	{types.ScenarioDebate, suggestion.TypeEnergy, types.LanguageEnglish}:     "Project confidence and authority in your voice",
	{types.ScenarioDebate, suggestion.TypePace, types.LanguageEnglish}:       "Slow down to make your arguments more persuasive",
	{types.ScenarioSales, suggestion.TypeEnergy, types.LanguageEnglish}:      "Show enthusiasm for your product",
	{types.ScenarioSales, suggestion.TypePause, types.LanguageEnglish}:       "Use strategic pauses to let key points sink in",
	{types.ScenarioConfidence, suggestion.TypeEnergy, types.LanguageEnglish}: "Speak with warmth and openness",
	{types.ScenarioConfidence, suggestion.TypePace, types.LanguageEnglish}:   "Take your time - there's no rush to share",
}

var detailedTips = map[suggestion.Type]map[types.Language]string{
	suggestion.TypeEnergy: {
		types.LanguageEnglish:    "Try standing up, smiling, or using hand gestures to naturally increase your vocal energy.",
		types.LanguageArabicMSA:  "حاول الوقوف أو الابتسام أو استخدام إيماءات اليد لزيادة طاقة صوتك بشكل طبيعي.",
		types.LanguageArabicGulf: "حاول تقوم أو تبتسم أو تستخدم إيماءات يدك عشان تزيد طاقة صوتك.",
	},
	suggestion.TypePace: {
		types.LanguageEnglish:    "Focus on articulating each word clearly. Pause between key points.",
		types.LanguageArabicMSA:  "ركز على نطق كل كلمة بوضوح. توقف بين النقاط المهمة.",
		types.LanguageArabicGulf: "ركز على نطق كل كلمة واضح. وقف بين النقاط المهمة.",
	},
	suggestion.TypePause: {
		types.LanguageEnglish:    "It's okay to take a moment to think. Silence can be powerful.",
		types.LanguageArabicMSA:  "لا بأس في أخذ لحظة للتفكير. الصمت يمكن أن يكون قوياً.",
		types.LanguageArabicGulf: "عادي تاخذ وقت تفكر. السكوت أحياناً يكون قوي.",
	},
	suggestion.TypeClarity: {
		types.LanguageEnglish:    "Open your mouth wider and speak from your diaphragm.",
		types.LanguageArabicMSA:  "افتح فمك أكثر وتحدث من الحجاب الحاجز.",
		types.LanguageArabicGulf: "افتح فمك أكثر وسولف من صدرك.",
	},
	suggestion.TypeFiller: {
		types.LanguageEnglish:    `Replace "um" and "uh" with brief pauses. It sounds more confident.`,
		types.LanguageArabicMSA:  `استبدل "أم" و "آه" بتوقفات قصيرة. يبدو أكثر ثقة.`,
		types.LanguageArabicGulf: `بدال ما تقول "أم" و "آه" اسكت شوي. يطلع أوثق.`,
	},
}

// Message implements [Catalog].
func (DefaultCatalog) Message(t suggestion.Type, lang types.Language, scenario types.ScenarioType) (string, error) {
	if msg, ok := scenarioMessages[scenarioKey{scenario, t, lang}]; ok {
		return msg, nil
	}
	return lookup(defaultMessages, t, lang)
}

// Tip implements [Catalog].
func (DefaultCatalog) Tip(t suggestion.Type, lang types.Language) (string, error) {
	return lookup(detailedTips, t, lang)
}

func lookup(table map[suggestion.Type]map[types.Language]string, t suggestion.Type, lang types.Language) (string, error) {
	byLang, ok := table[t]
	if !ok {
		return "", fmt.Errorf("coaching: unknown suggestion type %q", t)
	}
	msg, ok := byLang[lang]
	if !ok {
		return "", fmt.Errorf("coaching: no %s message for language %q", t, lang)
	}
	return msg, nil
}
