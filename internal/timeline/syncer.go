package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"social-events/internal/models"
)

const DefaultSyncInterval = 3 * time.Second

// Fetcher loads the authoritative history of a chat.
type Fetcher interface {
	FetchHistory(ctx context.Context, chatID int64) ([]models.Message, error)
}

// Syncer periodically merges the server history into a Timeline.
type Syncer struct {
	timeline *Timeline
	fetcher  Fetcher
	log      zerolog.Logger
}

func NewSyncer(timeline *Timeline, fetcher Fetcher, log zerolog.Logger) *Syncer {
	return &Syncer{timeline: timeline, fetcher: fetcher, log: log}
}

// SyncOnce fetches and merges one snapshot.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	msgs, err := s.fetcher.FetchHistory(ctx, s.timeline.ChatID())
	if err != nil {
		return err
	}
	s.timeline.MergeSnapshot(msgs)
	return nil
}

// Run syncs immediately and then every interval until ctx is done. Fetch
// errors are logged and retried on the next tick.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn().Err(err).Int64("chat_id", s.timeline.ChatID()).Msg("timeline sync failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// HTTPFetcher reads GET /chats/:chat_id from the gateway REST API.
type HTTPFetcher struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPFetcher(baseURL, token string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (f *HTTPFetcher) FetchHistory(ctx context.Context, chatID int64) ([]models.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/chats/%d", f.baseURL, chatID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+f.token)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch chat %d: %w", chatID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch chat %d: unexpected status %d", chatID, resp.StatusCode)
	}

	var history models.ChatHistory
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, fmt.Errorf("decode chat %d: %w", chatID, err)
	}
	return history.Messages, nil
}
