package speech

import (
	"strings"
	"unicode"
)

// DefaultPronunciations are spoken forms for names the synthesizer reads
// badly. Keys are matched after underscores become spaces and trailing
// digits are trimmed.
var DefaultPronunciations = map[string]string{
	"cmaennche":           "c-man-uh-she",
	"retr0m":              "retro-m",
	"theemperorpalpatine": "Emperor Palpa-teen",
	"c0rzi":               "corzi",
}

// Pronouncer turns chat display names into something speakable.
type Pronouncer struct {
	table map[string]string
}

// NewPronouncer builds a Pronouncer from table. A nil table uses
// [DefaultPronunciations].
func NewPronouncer(table map[string]string) *Pronouncer {
	if table == nil {
		table = DefaultPronunciations
	}
	p := &Pronouncer{table: make(map[string]string, len(table))}
	for k, v := range table {
		p.table[k] = v
	}
	return p
}

// Speakable replaces underscores with spaces, trims trailing digits and then
// applies the pronunciation table.
func (p *Pronouncer) Speakable(name string) string {
	s := strings.ReplaceAll(name, "_", " ")
	s = strings.TrimRightFunc(s, unicode.IsDigit)
	if v, ok := p.table[s]; ok {
		return v
	}
	return s
}

// DialogVerb returns the attribution verb for a line. Self-authored lines
// have no verb.
func DialogVerb(text string, self bool) string {
	switch {
	case self:
		return ""
	case strings.Contains(text, "?") || strings.HasPrefix(text, "!"):
		return "asked:"
	case strings.Contains(text, "!"):
		return "yelled:"
	default:
		return "said:"
	}
}

// Sanitizer makes chat text safe to embed in SSML. Implementations may also
// rewrite content (mask links, collapse repeats); the result must be valid
// XML character data.
type Sanitizer interface {
	Sanitize(speaker, text string) string
}

// SanitizerFunc adapts a function to [Sanitizer].
type SanitizerFunc func(speaker, text string) string

// Sanitize calls f.
func (f SanitizerFunc) Sanitize(speaker, text string) string { return f(speaker, text) }

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	`"`, "&quot;",
	"'", "&apos;",
	"<", "&lt;",
	">", "&gt;",
)

// EscapeXML escapes the five XML special characters.
func EscapeXML(s string) string { return xmlEscaper.Replace(s) }

// XMLSanitizer only escapes markup characters.
var XMLSanitizer Sanitizer = SanitizerFunc(func(_, text string) string { return EscapeXML(text) })

// BuildSSML renders the synthesis document. attribution is the already
// speakable "name verb" prefix, or empty to omit it; body must already be
// sanitized.
func BuildSSML(voice, attribution, body string) string {
	var b strings.Builder
	b.Grow(128 + len(voice) + len(attribution) + len(body))
	b.WriteString(`<speak version="1.0" xml:lang="en-us"><voice xml:lang="en-US" name="`)
	b.WriteString(EscapeXML(voice))
	b.WriteString(`">`)
	if attribution != "" {
		b.WriteString(attribution)
		b.WriteByte(' ')
	}
	b.WriteString(body)
	b.WriteString(`</voice></speak>`)
	return b.String()
}

// Attribution renders "<speakable name> <verb>". Self lines carry only the
// name.
func Attribution(p *Pronouncer, name, text string, self bool) string {
	spoken := EscapeXML(p.Speakable(name))
	if verb := DialogVerb(text, self); verb != "" {
		return spoken + " " + verb
	}
	return spoken
}
