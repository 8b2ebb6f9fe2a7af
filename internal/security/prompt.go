package security

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxPromptText bounds caller-supplied text embedded in model prompts.
const MaxPromptText = 2000

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(previous|all|above)\s+instructions?`),
	regexp.MustCompile(`(?i)disregard\s+(previous|all|above)`),
	regexp.MustCompile(`(?i)forget\s+(everything|all|previous)`),
	regexp.MustCompile(`(?i)new\s+instructions?:`),
	regexp.MustCompile(`(?i)system\s*:`),
	regexp.MustCompile(`(?i)assistant\s*:`),
	regexp.MustCompile(`(?i)</?(system|assistant|user)>`),
	regexp.MustCompile(`(?i)\[/?INST\]`),
	regexp.MustCompile(`<</?SYS>>`),
}

var markupFragments = regexp.MustCompile(`(?i)</?script[^>]*>|javascript:|on(error|click|load)\s*=`)

// SanitizePrompt cleans free text before it is placed in a model prompt. It
// truncates to MaxPromptText runes, strips script fragments and known
// instruction-override phrases, and collapses whitespace. The second return
// value reports whether an override phrase was removed.
func SanitizePrompt(s string) (string, bool) {
	if utf8.RuneCountInString(s) > MaxPromptText {
		s = string([]rune(s)[:MaxPromptText])
	}
	s = markupFragments.ReplaceAllString(s, "")
	found := false
	for _, re := range injectionPatterns {
		if re.MatchString(s) {
			found = true
			s = re.ReplaceAllString(s, "")
		}
	}
	return strings.Join(strings.Fields(s), " "), found
}
