package reasoning

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// codeFenceRe matches markdown code fences wrapping a reply.
var codeFenceRe = regexp.MustCompile("(?si)^```(?:json)?\\s*(.*?)\\s*```$")

// StripCodeFences removes markdown code fences if the LLM wrapped its output.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}

// ExtractJSON returns the first complete JSON object or array in s,
// ignoring fences and any prose around it.
func ExtractJSON(s string) (json.RawMessage, error) {
	s = StripCodeFences(s)
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return nil, errors.New("no JSON value in reply")
	}
	dec := json.NewDecoder(strings.NewReader(s[start:]))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return bytes.TrimSpace(raw), nil
}
