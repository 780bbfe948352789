// Package extract recovers the SQL statement an agent embedded in its
// natural-language answer.
//
// The agent is instructed to wrap the statement in a single parenthesized
// group. The first top-level group in the answer is taken; parentheses
// nested inside it (subqueries, function calls) and parentheses inside
// quoted literals are balanced rather than terminating the match.
package extract

import (
	"errors"
	"regexp"
	"strings"
)

var ErrNoQuery = errors.New("no query found in agent answer")

// firstGroupPattern is the plain first-match rule, used only when the
// balanced scan cannot close the group (for example an unterminated quote).
var firstGroupPattern = regexp.MustCompile(`(?s)\((.*?)\)`)

// Extract returns the normalized statement embedded in answer.
func Extract(answer string) (string, error) {
	candidate, ok := firstGroup(answer)
	if !ok {
		match := firstGroupPattern.FindStringSubmatch(answer)
		if match == nil {
			return "", ErrNoQuery
		}
		candidate = match[1]
	}
	normalized := Normalize(candidate)
	if normalized == "" {
		return "", ErrNoQuery
	}
	return normalized, nil
}

// Normalize trims the statement and removes a trailing row-limiting clause
// so the full result set is exported.
func Normalize(sqlText string) string {
	trimmed := stripTrailingSemicolons(sqlText)
	if cut := rowLimitOffset(trimmed); cut >= 0 {
		trimmed = stripTrailingSemicolons(trimmed[:cut])
	}
	return trimmed
}

func firstGroup(text string) (string, bool) {
	start := strings.IndexByte(text, '(')
	if start < 0 {
		return "", false
	}
	depth := 0
	var quote byte
	for i := start; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			if c == quote {
				if i+1 < len(text) && text[i+1] == quote {
					i++
					continue
				}
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return text[start+1 : i], true
			}
		}
	}
	return "", false
}

// rowLimitOffset returns the byte offset of the last LIMIT or FETCH
// FIRST/NEXT keyword at parenthesis depth zero outside literals, or -1.
func rowLimitOffset(sqlText string) int {
	offset := -1
	depth := 0
	var quote byte
	for i := 0; i < len(sqlText); i++ {
		c := sqlText[i]
		if quote != 0 {
			if c == quote {
				if i+1 < len(sqlText) && sqlText[i+1] == quote {
					i++
					continue
				}
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
			continue
		case '(':
			depth++
			continue
		case ')':
			if depth > 0 {
				depth--
			}
			continue
		}
		if depth != 0 || (i > 0 && isIdentByte(sqlText[i-1])) {
			continue
		}
		if keywordAt(sqlText, i, "LIMIT") {
			offset = i
			continue
		}
		if keywordAt(sqlText, i, "FETCH") {
			rest := strings.TrimLeft(sqlText[i+len("FETCH"):], " \t\r\n")
			if keywordAt(rest, 0, "FIRST") || keywordAt(rest, 0, "NEXT") {
				offset = i
			}
		}
	}
	return offset
}

// keywordAt matches an upper-case ASCII keyword at byte offset i, ignoring
// ASCII case. Offsets stay valid for the original text.
func keywordAt(text string, i int, keyword string) bool {
	end := i + len(keyword)
	if end > len(text) {
		return false
	}
	for j := 0; j < len(keyword); j++ {
		c := text[i+j]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c != keyword[j] {
			return false
		}
	}
	return end == len(text) || !isIdentByte(text[end])
}

func isIdentByte(c byte) bool {
	return c >= 0x80 || c == '_' || (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
