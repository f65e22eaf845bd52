package complete

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TriggerContext is the editor state captured when a trigger fires.
type TriggerContext struct {
	// LinePrefix is the current line up to the cursor.
	LinePrefix string
	// Prefix is the whole document up to the cursor.
	Prefix string
	// TriggerCharacter is the character that opened the dropdown, if any.
	TriggerCharacter string
}

// Line returns the current line up to the cursor. Clients that send only
// the document prefix get its last line.
func (tc TriggerContext) Line() string {
	if tc.LinePrefix != "" {
		return tc.LinePrefix
	}
	return tc.Prefix[strings.LastIndexByte(tc.Prefix, '\n')+1:]
}

// Policy decides whether a trigger should issue a request at all.
type Policy interface {
	Accept(tc TriggerContext) bool
}

// InlinePolicy accepts any line prefix that is not empty or whitespace.
type InlinePolicy struct{}

func (InlinePolicy) Accept(tc TriggerContext) bool {
	return strings.TrimSpace(tc.Line()) != ""
}

// DropdownPolicy accepts at a word boundary (the prefix ends with a word
// character) or right after one of the trigger characters.
type DropdownPolicy struct {
	TriggerCharacters []string
}

func (p DropdownPolicy) Accept(tc TriggerContext) bool {
	if tc.TriggerCharacter != "" && p.isTrigger(tc.TriggerCharacter) {
		return true
	}
	r, size := utf8.DecodeLastRuneInString(tc.Line())
	if size == 0 || r == utf8.RuneError {
		return false
	}
	return isWordRune(r) || p.isTrigger(string(r))
}

func (p DropdownPolicy) isTrigger(s string) bool {
	return slices.Contains(p.TriggerCharacters, s)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
