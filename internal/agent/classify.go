package agent

import (
	"log/slog"
	"math/rand/v2"
	"strings"

	"cqbridge/internal/cqcode"
	"cqbridge/internal/domain"
)

// Classifier decides whether an inbound message warrants a reply and
// extracts the text the bot should answer.
type Classifier struct {
	selfID      int64
	nicknames   []string
	blocked     map[int64]bool
	probability float64
	randFloat   func() float64
	logger      *slog.Logger
}

type ClassifierConfig struct {
	SelfID           int64 // used when the event does not carry self_id
	Nicknames        []string
	BlockIDs         []int64
	ReplyProbability float64
	Rand             func() float64 // uniform in [0,1); defaults to math/rand
	Logger           *slog.Logger
}

func NewClassifier(cfg ClassifierConfig) *Classifier {
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	blocked := make(map[int64]bool, len(cfg.BlockIDs))
	for _, id := range cfg.BlockIDs {
		blocked[id] = true
	}
	nicknames := make([]string, 0, len(cfg.Nicknames))
	for _, n := range cfg.Nicknames {
		if n != "" {
			nicknames = append(nicknames, n)
		}
	}
	return &Classifier{
		selfID:      cfg.SelfID,
		nicknames:   nicknames,
		blocked:     blocked,
		probability: cfg.ReplyProbability,
		randFloat:   cfg.Rand,
		logger:      cfg.Logger,
	}
}

// Classify returns the effective text and true when the bot should answer.
func (c *Classifier) Classify(ev domain.InboundEvent) (string, bool) {
	if ev.Kind != domain.KindGroup {
		return ev.RawText, true
	}

	if c.blocked[ev.Sender.UserID] {
		c.logger.Debug("sender blocked", "user_id", ev.Sender.UserID, "group_id", ev.GroupID)
		return "", false
	}

	selfID := ev.SelfID
	if selfID == 0 {
		selfID = c.selfID
	}
	if selfID != 0 && cqcode.Mentions(ev.RawText, selfID) {
		return cqcode.StripMentions(ev.RawText, selfID), true
	}

	for _, n := range c.nicknames {
		if strings.Contains(ev.RawText, n) {
			return ev.RawText, true
		}
	}

	if c.randFloat() <= c.probability {
		c.logger.Debug("sampled group message", "group_id", ev.GroupID)
		return ev.RawText, true
	}
	return "", false
}
