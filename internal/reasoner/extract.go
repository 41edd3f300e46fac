package reasoner

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	// ErrNoJSONFound means the completion held no balanced JSON value.
	ErrNoJSONFound = eris.New("no JSON found in completion")
	// ErrInvalidJSON means a balanced span was found but does not parse.
	ErrInvalidJSON = eris.New("completion JSON is invalid")
)

// ExtractJSON returns the first balanced JSON object or array in text. A
// leading markdown fence is stripped first. Brackets inside string literals,
// including escaped quotes, do not count toward balance.
func ExtractJSON(text string) (string, error) {
	s := stripFence(strings.TrimSpace(text))

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", ErrNoJSONFound
	}
	open := s[start]
	closer := byte('}')
	if open == '[' {
		closer = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				span := s[start : i+1]
				if !json.Valid([]byte(span)) {
					return "", eris.Wrapf(ErrInvalidJSON, "span %q", truncate(span, 200))
				}
				return span, nil
			}
		}
	}
	return "", ErrNoJSONFound
}

// stripFence removes a leading ``` or ```json fence and its closing fence.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	nl := strings.IndexByte(s, '\n')
	last := strings.LastIndex(s, "```")
	if nl < 0 || last <= nl {
		return s
	}
	return strings.TrimSpace(s[nl+1 : last])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
