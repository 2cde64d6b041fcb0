package analyzer

import (
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/vocaledge/internal/clock"
	"github.com/MrWong99/vocaledge/pkg/types"
)

// DefaultFillerWindow is how far back FillerTracker counts filler words.
const DefaultFillerWindow = 60 * time.Second

var fillerWords = map[types.Language][]string{
	types.LanguageEnglish:    {"um", "uh", "er", "ah", "like", "you know", "actually", "basically"},
	types.LanguageArabicMSA:  {"أم", "آه", "يعني", "أساساً", "فعلياً"},
	types.LanguageArabicGulf: {"أم", "آه", "يعني", "بس", "شوف"},
}

// maxFillerWords is the word count of the longest filler ("you know").
var maxFillerWords = func() int {
	n := 1
	for _, words := range fillerWords {
		for _, w := range words {
			n = max(n, len(strings.Fields(w)))
		}
	}
	return n
}()

// fillerPatterns match a filler token delimited by non-word runes. Go's \b
// only understands ASCII word characters, so the boundaries are spelled out
// with Unicode classes to work for Arabic script.
var fillerPatterns = func() map[types.Language]*regexp.Regexp {
	const boundary = `[^\p{L}\p{M}\p{N}_]`
	out := make(map[types.Language]*regexp.Regexp, len(fillerWords))
	for lang, words := range fillerWords {
		quoted := make([]string, len(words))
		for i, w := range words {
			quoted[i] = regexp.QuoteMeta(w)
		}
		out[lang] = regexp.MustCompile(`(?i)(?:^|` + boundary + `)(` + strings.Join(quoted, "|") + `)(?:` + boundary + `|$)`)
	}
	return out
}()

// CountFillers returns how many filler tokens of lang appear in text.
// Unknown languages count nothing.
func CountFillers(text string, lang types.Language) int {
	re, ok := fillerPatterns[lang]
	if !ok {
		return 0
	}
	return len(fillerSpans(re, text))
}

// fillerSpans returns the byte range of every filler token in text.
func fillerSpans(re *regexp.Regexp, text string) [][2]int {
	var spans [][2]int
	for pos := 0; pos < len(text); {
		loc := re.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		spans = append(spans, [2]int{pos + loc[2], pos + loc[3]})
		// Resume right after the token so a shared delimiter can open the
		// next match.
		pos += loc[3]
	}
	return spans
}

// maxTail bounds the carried tail when the transcript has no whitespace.
const maxTail = 64

// tailOf returns the suffix of s holding its last n whitespace-separated
// segments, so a filler of up to n words that continues into the next delta
// is still visible.
func tailOf(s string, n int) string {
	cut := len(s)
	for range n {
		i := strings.LastIndexFunc(s[:cut], unicode.IsSpace)
		if i < 0 {
			cut = 0
			break
		}
		cut = i
	}
	for len(s)-cut > maxTail {
		cut++
		for cut < len(s) && !utf8.RuneStart(s[cut]) {
			cut++
		}
	}
	return s[cut:]
}

type fillerHit struct {
	at    time.Time
	count int
}

// FillerTracker keeps a sliding-window tally of filler words observed in the
// user's transcript. Deltas may split a filler anywhere, so the end of the
// previous delta is re-scanned with the next one. Safe for concurrent use.
type FillerTracker struct {
	clock  clock.Clock
	window time.Duration

	mu   sync.Mutex
	lang types.Language
	hits []fillerHit

	// tail is the end of the text seen so far. endHit is set when a filler
	// counted in the last delta ran up to its very end and could still turn
	// out to be the start of a longer word.
	tail   string
	endHit bool
}

// NewFillerTracker returns a tracker for lang. A non-positive window uses
// [DefaultFillerWindow]; a nil clock uses the system clock.
func NewFillerTracker(clk clock.Clock, lang types.Language, window time.Duration) *FillerTracker {
	if clk == nil {
		clk = clock.Real{}
	}
	if window <= 0 {
		window = DefaultFillerWindow
	}
	return &FillerTracker{clock: clk, window: window, lang: lang}
}

// Observe counts fillers in a user transcript delta.
func (f *FillerTracker) Observe(text string) {
	if text == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	re, ok := fillerPatterns[f.lang]
	if !ok {
		return
	}

	combined := f.tail + text
	off := len(f.tail)
	n, confirmed, endHit := 0, false, false
	for _, sp := range fillerSpans(re, combined) {
		switch {
		case sp[1] > off:
			n++
			endHit = sp[1] == len(combined)
		case sp[1] == off:
			confirmed = true
		}
	}
	if f.endHit && !confirmed && len(f.hits) > 0 {
		// The previous delta ended mid-word: "um" + "brella".
		last := &f.hits[len(f.hits)-1]
		if last.count--; last.count == 0 {
			f.hits = f.hits[:len(f.hits)-1]
		}
	}
	if n > 0 {
		f.hits = append(f.hits, fillerHit{at: f.clock.Now(), count: n})
	}
	f.endHit = endHit
	f.tail = tailOf(combined, maxFillerWords)
}

// Break marks the end of an utterance. The next delta is not joined to the
// text before it.
func (f *FillerTracker) Break() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tail, f.endHit = "", false
}

// Count returns the number of fillers observed within the window.
func (f *FillerTracker) Count() int {
	cutoff := f.clock.Now().Add(-f.window)

	f.mu.Lock()
	defer f.mu.Unlock()
	i := 0
	for i < len(f.hits) && !f.hits[i].at.After(cutoff) {
		i++
	}
	f.hits = f.hits[i:]

	total := 0
	for _, h := range f.hits {
		total += h.count
	}
	return total
}

// SetLanguage switches the filler vocabulary and clears the tally.
func (f *FillerTracker) SetLanguage(lang types.Language) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lang = lang
	f.hits = nil
	f.tail, f.endHit = "", false
}

// Reset clears the tally.
func (f *FillerTracker) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits = nil
	f.tail, f.endHit = "", false
}
