package speech

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/cespare/xxhash/v2"
)

// Roster languages.
const (
	LangEnglish = "en"
	LangRussian = "ru"
)

// DefaultRosters are the voice rosters used when none are configured.
// Duplicates are intentional: they weight the hash distribution.
var DefaultRosters = map[string][]string{
	LangEnglish: {
		"en-CA-Linda",
		"en-AU-HayleyRUS",
		"en-AU-Catherine",
		"en-CA-HeatherRUS",
		"en-CA-Linda",
		"en-GB-HazelRUS",
		"en-AU-HayleyRUS",
		"en-GB-HazelRUS",
		"en-US-AriaRUS",
		"en-US-AriaRUS",
		"en-GB-George",
		"en-US-ZiraRUS",
		"en-US-AriaRUS",
		"en-US-BenjaminRUS",
		"en-US-Guy24kRUS",
	},
	LangRussian: {
		"ru-RU-DariyaNeural",
		"ru-RU-EkaterinaRUS",
		"ru-RU-Irina",
		"ru-RU-DariyaNeural",
		"ru-RU-EkaterinaRUS",
		"ru-RU-Irina",
		"ru-RU-DariyaNeural",
		"ru-RU-DariyaNeural",
		"ru-RU-EkaterinaRUS",
		"ru-RU-EkaterinaRUS",
		"ru-RU-Pavel",
		"ru-RU-EkaterinaRUS",
		"ru-RU-DariyaNeural",
		"ru-RU-Pavel",
		"ru-RU-Pavel",
	},
}

// DetectLanguage returns [LangRussian] when text contains a letter of the
// basic Russian alphabet (А..я, without Ё/ё) and [LangEnglish] otherwise.
// Other Cyrillic letters alone do not switch rosters.
func DetectLanguage(text string) string {
	for _, r := range text {
		if r >= 'А' && r <= 'я' {
			return LangRussian
		}
	}
	return LangEnglish
}

// VoiceOption configures a [VoiceSelector].
type VoiceOption func(*VoiceSelector)

// WithRosters replaces the default rosters. Languages missing from r keep
// their default roster.
func WithRosters(r map[string][]string) VoiceOption {
	return func(s *VoiceSelector) {
		for lang, voices := range r {
			s.rosters[lang] = append([]string(nil), voices...)
		}
	}
}

// WithOverrides pins voices for specific speaker names.
func WithOverrides(m map[string]string) VoiceOption {
	return func(s *VoiceSelector) {
		for name, voice := range m {
			s.overrides[name] = voice
		}
	}
}

// WithFuzzyThreshold enables approximate override matching: a name whose
// Jaro-Winkler similarity to an override key reaches t uses that override.
// Zero disables it.
func WithFuzzyThreshold(t float64) VoiceOption {
	return func(s *VoiceSelector) {
		s.fuzzy = t
	}
}

// VoiceSelector maps a speaker and line to a synthesis voice. Selection is
// pure: the same inputs always give the same voice.
//
// A VoiceSelector is immutable after construction and safe for concurrent use.
type VoiceSelector struct {
	rosters   map[string][]string
	overrides map[string]string
	folded    map[string]string
	fuzzy     float64
}

// NewVoiceSelector builds a selector. It fails when the English roster is
// empty, since every lookup falls back to it.
func NewVoiceSelector(opts ...VoiceOption) (*VoiceSelector, error) {
	s := &VoiceSelector{
		rosters:   make(map[string][]string, len(DefaultRosters)),
		overrides: make(map[string]string),
	}
	for lang, voices := range DefaultRosters {
		s.rosters[lang] = voices
	}
	for _, o := range opts {
		o(s)
	}
	if len(s.rosters[LangEnglish]) == 0 {
		return nil, errors.New("speech: english voice roster must not be empty")
	}
	if s.fuzzy < 0 || s.fuzzy > 1 {
		return nil, fmt.Errorf("speech: fuzzy threshold must be in [0,1], got %v", s.fuzzy)
	}
	s.folded = make(map[string]string, len(s.overrides))
	for name, voice := range s.overrides {
		s.folded[strings.ToLower(name)] = voice
	}
	return s, nil
}

// Select returns the voice for name speaking text. English lines consult the
// overrides first; every other line hashes the name into the roster for the
// text's language.
func (s *VoiceSelector) Select(name, text string) string {
	lang := DetectLanguage(text)
	if lang == LangEnglish {
		if v, ok := s.override(name); ok {
			return v
		}
	}
	roster := s.rosters[lang]
	if len(roster) == 0 {
		roster = s.rosters[LangEnglish]
	}
	return roster[xxhash.Sum64String(name)%uint64(len(roster))]
}

func (s *VoiceSelector) override(name string) (string, bool) {
	if v, ok := s.overrides[name]; ok {
		return v, true
	}
	lower := strings.ToLower(name)
	if v, ok := s.folded[lower]; ok {
		return v, true
	}
	if s.fuzzy == 0 {
		return "", false
	}

	best, bestScore := "", 0.0
	for key, voice := range s.folded {
		score := matchr.JaroWinkler(lower, key, false)
		if score >= s.fuzzy && (score > bestScore || score == bestScore && voice < best) {
			best, bestScore = voice, score
		}
	}
	return best, best != ""
}

// ParseOverrides reads the legacy voices.txt format: one "name voice" pair
// per line separated by whitespace. Blank lines and lines starting with '#'
// are ignored; lines without a voice are skipped.
func ParseOverrides(r io.Reader) (map[string]string, error) {
	out := make(map[string]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		out[fields[0]] = fields[1]
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("speech: read voice overrides: %w", err)
	}
	return out, nil
}
