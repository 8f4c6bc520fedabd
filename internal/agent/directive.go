package agent

import (
	"regexp"
	"strings"

	"cqbridge/internal/domain"
)

var (
	voicePattern    = regexp.MustCompile(`(?s)#voice\s*(.*)`)
	drawPattern     = regexp.MustCompile(`(?s)#draw\s*(.*)`)
	squareNote      = regexp.MustCompile(`\[.*?\]`)
	roundNote       = regexp.MustCompile(`\(.*?\)`)
	drawPunct       = regexp.MustCompile(`[,，。.…]+`)
	drawSpaces      = regexp.MustCompile(`[\s\p{Z}]+`)
	drawEdgePunct   = regexp.MustCompile(`^[,.。!?\s]+|[,.。!?\s]+$`)
	historyPrefixes = []string{"!history", "/history", "#history"}
)

// ParseDirective finds the directive acted upon in a model response.
// Priority is #voice, then #recognize, then #draw.
func ParseDirective(response string) (domain.Directive, bool) {
	switch {
	case strings.Contains(response, string(domain.DirectiveVoice)):
		var arg string
		if m := voicePattern.FindStringSubmatch(response); m != nil {
			arg = VoiceText(m[1])
		}
		return domain.Directive{Kind: domain.DirectiveVoice, Argument: arg}, true
	case strings.Contains(response, string(domain.DirectiveRecognize)):
		idx := strings.Index(response, string(domain.DirectiveRecognize))
		arg := strings.TrimSpace(response[idx+len(domain.DirectiveRecognize):])
		return domain.Directive{Kind: domain.DirectiveRecognize, Argument: arg}, true
	case strings.Contains(response, string(domain.DirectiveDraw)):
		var arg string
		if m := drawPattern.FindStringSubmatch(response); m != nil {
			arg = strings.TrimSpace(m[1])
		}
		return domain.Directive{Kind: domain.DirectiveDraw, Argument: arg}, true
	}
	return domain.Directive{}, false
}

// VoiceText prepares text for speech: trimmed, newlines read as sentence
// breaks, bracketed and parenthesized annotations removed.
func VoiceText(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\n", ".")
	s = squareNote.ReplaceAllString(s, "")
	return roundNote.ReplaceAllString(s, "")
}

// textPass is one step of draw prompt normalization.
type textPass struct {
	name string
	fn   func(string) string
}

var drawPasses = []textPass{
	{"newlines", func(s string) string { return strings.ReplaceAll(s, "\n", " ") }},
	{"brackets", func(s string) string { return squareNote.ReplaceAllString(s, "") }},
	{"empty parens", func(s string) string { return strings.ReplaceAll(s, "()", "") }},
	{"punctuation", func(s string) string { return drawPunct.ReplaceAllString(s, " ") }},
	{"whitespace", func(s string) string { return drawSpaces.ReplaceAllString(s, ",") }},
	{"cjk", dropCJK},
	{"trim", strings.TrimSpace},
	{"tail", dropTail},
	{"edges", func(s string) string { return drawEdgePunct.ReplaceAllString(s, "") }},
}

// NormalizeDrawPrompt runs the draw passes over the text after a #draw marker.
func NormalizeDrawPrompt(arg string) string {
	for _, p := range drawPasses {
		arg = p.fn(arg)
	}
	return arg
}

func dropCJK(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '\u4e00' && r <= '\u9fff' {
			return -1
		}
		return r
	}, s)
}

// dropTail removes the last two runes.
func dropTail(s string) string {
	r := []rune(s)
	if len(r) <= 2 {
		return ""
	}
	return string(r[:len(r)-2])
}

func isHistoryTurn(text string) bool {
	for _, p := range historyPrefixes {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	return false
}
