package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"cqbridge/internal/domain"
)

const musicNotFound = "没有找到这首歌。"

// MusicClient looks songs up through an HTTP search API. The URL template
// carries a {query} placeholder; the song URL is read at resultPath.
type MusicClient struct {
	searchURL  string
	resultPath string
	client     *http.Client
	logger     *slog.Logger
}

type MusicConfig struct {
	SearchURL  string
	ResultPath string
	Timeout    time.Duration
	Logger     *slog.Logger
}

var _ domain.MusicFinder = (*MusicClient)(nil)

func NewMusicClient(cfg MusicConfig) *MusicClient {
	if cfg.ResultPath == "" {
		cfg.ResultPath = "data.url"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &MusicClient{
		searchURL:  cfg.SearchURL,
		resultPath: cfg.ResultPath,
		client:     SharedHTTPClient(cfg.Timeout),
		logger:     cfg.Logger,
	}
}

// FindMusic returns a playable URL, or a status message from the API when it
// has none.
func (m *MusicClient) FindMusic(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", nil
	}
	target := strings.ReplaceAll(m.searchURL, "{query}", url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("music search: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("music search: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("music search: status %d", resp.StatusCode)
	}

	if u := gjson.GetBytes(data, m.resultPath).String(); u != "" {
		return u, nil
	}
	for _, path := range []string{"message", "msg"} {
		if s := gjson.GetBytes(data, path).String(); s != "" {
			return s, nil
		}
	}
	m.logger.Debug("music search returned no result", "query", query)
	return musicNotFound, nil
}
