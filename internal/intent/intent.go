// Package intent recognizes special requests (draw, speak, play, look) in
// user text and resolves them through the model-backed services.
package intent

import (
	"context"
	"strings"

	"cqbridge/internal/cqcode"
	"cqbridge/internal/domain"
)

// Resolver turns a request of one kind into a result. It returns "" with a
// nil error when text is not a request of its kind.
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, text string) (string, error)
}

// DrawMarker is the directive that asks for an image anywhere in a text.
const DrawMarker = "#draw"

// cutPrefix returns the trimmed remainder of text after the first matching
// prefix. An empty remainder is not a request.
func cutPrefix(text string, prefixes []string) (string, bool) {
	text = strings.TrimSpace(text)
	for _, p := range prefixes {
		if p == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(text, p); ok {
			rest = strings.TrimSpace(rest)
			if rest == "" {
				return "", false
			}
			return rest, true
		}
	}
	return "", false
}

// Image generates an image for draw requests.
type Image struct {
	gen      domain.ImageGenerator
	prefixes []string
}

func NewImage(gen domain.ImageGenerator, prefixes []string) *Image {
	return &Image{gen: gen, prefixes: prefixes}
}

func (i *Image) Name() string { return "image" }

// Prompt extracts the drawing prompt: the text after a #draw marker, or the
// text after a configured prefix.
func (i *Image) Prompt(text string) (string, bool) {
	if idx := strings.Index(text, DrawMarker); idx >= 0 {
		prompt := strings.TrimSpace(text[idx+len(DrawMarker):])
		return prompt, prompt != ""
	}
	return cutPrefix(text, i.prefixes)
}

func (i *Image) Resolve(ctx context.Context, text string) (string, error) {
	if i.gen == nil {
		return "", nil
	}
	prompt, ok := i.Prompt(text)
	if !ok {
		return "", nil
	}
	return i.gen.GenerateImage(ctx, prompt)
}

// Generate draws prompt as given, without looking for a request marker.
func (i *Image) Generate(ctx context.Context, prompt string) (string, error) {
	if i.gen == nil || strings.TrimSpace(prompt) == "" {
		return "", nil
	}
	return i.gen.GenerateImage(ctx, prompt)
}

// Voice synthesizes the text after a speak prefix.
type Voice struct {
	synth    domain.VoiceSynthesizer
	prefixes []string
}

func NewVoice(synth domain.VoiceSynthesizer, prefixes []string) *Voice {
	return &Voice{synth: synth, prefixes: prefixes}
}

func (v *Voice) Name() string { return "voice" }

func (v *Voice) Resolve(ctx context.Context, text string) (string, error) {
	if v.synth == nil {
		return "", nil
	}
	rest, ok := cutPrefix(text, v.prefixes)
	if !ok {
		return "", nil
	}
	return v.synth.Synthesize(ctx, rest)
}

// Music looks up the song named after a music prefix.
type Music struct {
	finder   domain.MusicFinder
	prefixes []string
}

func NewMusic(finder domain.MusicFinder, prefixes []string) *Music {
	return &Music{finder: finder, prefixes: prefixes}
}

func (m *Music) Name() string { return "music" }

func (m *Music) Resolve(ctx context.Context, text string) (string, error) {
	if m.finder == nil {
		return "", nil
	}
	rest, ok := cutPrefix(text, m.prefixes)
	if !ok {
		return "", nil
	}
	return m.finder.FindMusic(ctx, rest)
}

// Recognition describes the first image carried by a message.
type Recognition struct {
	rec domain.ImageRecognizer
}

func NewRecognition(rec domain.ImageRecognizer) *Recognition {
	return &Recognition{rec: rec}
}

func (r *Recognition) Name() string { return "recognition" }

// Resolve only reacts to image CQ codes.
func (r *Recognition) Resolve(ctx context.Context, text string) (string, error) {
	if r.rec == nil {
		return "", nil
	}
	urls := cqcode.ImageURLs(text)
	if len(urls) == 0 {
		return "", nil
	}
	return r.rec.RecognizeImage(ctx, urls[0])
}

// ResolveArgument also accepts a bare http(s) URL, as found after a
// #recognize directive.
func (r *Recognition) ResolveArgument(ctx context.Context, arg string) (string, error) {
	if r.rec == nil {
		return "", nil
	}
	if urls := cqcode.ImageURLs(arg); len(urls) > 0 {
		return r.rec.RecognizeImage(ctx, urls[0])
	}
	fields := strings.Fields(arg)
	if len(fields) > 0 && (strings.HasPrefix(fields[0], "http://") || strings.HasPrefix(fields[0], "https://")) {
		return r.rec.RecognizeImage(ctx, fields[0])
	}
	return "", nil
}
