package domain

import "context"

// Message is a single role-tagged entry of a model request.
type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// ChatModel produces an assistant reply for an ordered list of messages.
type ChatModel interface {
	Name() string
	Chat(ctx context.Context, messages []Message) (string, error)
	Healthy(ctx context.Context) error
}

// ImageGenerator turns a prompt into an image URL.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// ImageRecognizer describes the image found at imageURL.
type ImageRecognizer interface {
	RecognizeImage(ctx context.Context, imageURL string) (string, error)
}

// VoiceSynthesizer renders text as audio and returns a URL the gateway can fetch.
// An empty URL with a nil error means nothing was synthesized.
type VoiceSynthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// MusicFinder looks up a song. The result is either a playable URL or a
// human readable status message.
type MusicFinder interface {
	FindMusic(ctx context.Context, query string) (string, error)
}

// Deliverer sends outbound messages. Implementations never report errors to
// the caller; failures are turned into notices or logged.
type Deliverer interface {
	Deliver(ctx context.Context, msg OutboundMessage)
}
