package fabric

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNotStructured is returned by Payload.Decode when the recovered payload
// was plain text rather than a structured value.
var ErrNotStructured = errors.New("payload is not structured data")

// Payload is the structured value recovered from transport output. Exactly
// one of JSON or Text is meaningful: JSON when a structured value decoded,
// Text otherwise.
type Payload struct {
	JSON json.RawMessage
	Text string
}

// IsJSON reports whether a structured value was recovered.
func (p Payload) IsJSON() bool { return p.JSON != nil }

// Decode unmarshals the structured payload into v. A plain-text payload does
// not decode.
func (p Payload) Decode(v any) error {
	if !p.IsJSON() {
		return ErrNotStructured
	}
	return json.Unmarshal(p.JSON, v)
}

// String returns the payload as text: the raw JSON for structured values.
func (p Payload) String() string {
	if p.IsJSON() {
		return string(p.JSON)
	}
	return p.Text
}

// ansiEscape matches terminal color and control escape sequences as the
// ledger CLI emits them.
var ansiEscape = regexp.MustCompile(`\x1b(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

// parseStrategy attempts to recover a payload from the cleaned output lines.
// Strategies run in order; the first to succeed wins.
type parseStrategy struct {
	name string
	fn   func(lines []string) (Payload, bool)
}

var parseStrategies = []parseStrategy{
	{"object-line", scanObjectLines},
	{"bottom-up-json", scanBottomUpJSON},
	{"last-line-text", lastNonEmptyLine},
}

// Parse recovers a structured value, or a best-effort string, from raw
// transport output. The CLI interleaves log lines with one payload line at
// no fixed position, so recovery is a layered fallback: strip escape
// sequences, take the first object- or array-shaped line top-down, else the
// first decodable line bottom-up, else the last non-empty line verbatim.
// When the output has no non-empty lines at all, ok is false and the payload
// carries the raw input unchanged.
func Parse(raw string) (Payload, bool) {
	clean := ansiEscape.ReplaceAllString(raw, "")
	lines := strings.Split(strings.TrimSpace(clean), "\n")

	for _, s := range parseStrategies {
		if p, ok := s.fn(lines); ok {
			return p, true
		}
	}
	return Payload{Text: raw}, false
}

// scanObjectLines returns the first line, top to bottom, that is
// syntactically an object or array and decodes as one.
func scanObjectLines(lines []string) (Payload, bool) {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "{") && !strings.HasPrefix(line, "[") {
			continue
		}
		if gjson.Valid(line) {
			return Payload{JSON: json.RawMessage(line)}, true
		}
	}
	return Payload{}, false
}

// scanBottomUpJSON returns the first non-empty line, bottom to top, that
// decodes as any JSON value, scalars included.
func scanBottomUpJSON(lines []string) (Payload, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if gjson.Valid(line) {
			return Payload{JSON: json.RawMessage(line)}, true
		}
	}
	return Payload{}, false
}

// lastNonEmptyLine returns the last non-empty line as a plain string.
func lastNonEmptyLine(lines []string) (Payload, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			return Payload{Text: line}, true
		}
	}
	return Payload{}, false
}
