// Package cqcode builds and parses the OneBot v11 CQ code segments that are
// embedded in plain message text, e.g. [CQ:image,file=https://...].
package cqcode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Segment is one CQ code found in a message.
type Segment struct {
	Type   string
	Params map[string]string
	Raw    string
}

var pattern = regexp.MustCompile(`\[CQ:([a-zA-Z0-9_]+)(?:,([^\]]*))?\]`)

var (
	escaper   = strings.NewReplacer("&", "&amp;", "[", "&#91;", "]", "&#93;", ",", "&#44;")
	unescaper = strings.NewReplacer("&#44;", ",", "&#91;", "[", "&#93;", "]", "&amp;", "&")
)

// Escape encodes a parameter value so it cannot terminate the code early.
func Escape(v string) string { return escaper.Replace(v) }

// Unescape reverses Escape.
func Unescape(v string) string { return unescaper.Replace(v) }

// Image returns an image segment pointing at url.
func Image(url string) string {
	return "[CQ:image,file=" + Escape(url) + "]"
}

// Record returns a voice segment pointing at file.
func Record(file string) string {
	return "[CQ:record,file=" + Escape(file) + "]"
}

// At returns a mention of the given account.
func At(qq int64) string {
	return "[CQ:at,qq=" + strconv.FormatInt(qq, 10) + "]"
}

// MentionPattern matches every mention of selfID, including mentions that
// carry extra parameters such as [CQ:at,qq=123,name=bot].
func MentionPattern(selfID int64) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`\[CQ:at,qq=%d(?:,[^\]]*)?\]`, selfID))
}

// Mentions reports whether text mentions selfID.
func Mentions(text string, selfID int64) bool {
	return MentionPattern(selfID).MatchString(text)
}

// StripMentions removes every mention of selfID in one pass and trims the result.
func StripMentions(text string, selfID int64) string {
	return strings.TrimSpace(MentionPattern(selfID).ReplaceAllString(text, ""))
}

// Parse returns every CQ segment in text, in order of appearance.
func Parse(text string) []Segment {
	matches := pattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]Segment, 0, len(matches))
	for _, m := range matches {
		out = append(out, Segment{Type: m[1], Params: Params(m[2]), Raw: m[0]})
	}
	return out
}

// Params splits a "k=v,k=v" parameter list. Items without '=' are skipped.
func Params(raw string) map[string]string {
	result := make(map[string]string)
	if raw == "" {
		return result
	}
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key, value, ok := strings.Cut(item, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		result[key] = Unescape(strings.TrimSpace(value))
	}
	return result
}

// ImageURLs returns the fetchable location of every image in text. The url
// parameter is preferred; gateways that omit it expose the location in file.
func ImageURLs(text string) []string {
	var urls []string
	for _, seg := range Parse(text) {
		if seg.Type != "image" {
			continue
		}
		if u := seg.Params["url"]; u != "" {
			urls = append(urls, u)
		} else if f := seg.Params["file"]; f != "" {
			urls = append(urls, f)
		}
	}
	return urls
}

// PlainText removes every CQ code from text.
func PlainText(text string) string {
	return strings.TrimSpace(pattern.ReplaceAllString(text, ""))
}
