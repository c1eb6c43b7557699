package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultExpoPushURL is the Expo push API send endpoint.
	DefaultExpoPushURL = "https://exp.host/--/api/v2/push/send"
	expoTimeout        = 30 * time.Second
)

// ExpoSender sends push notifications through the Expo push API.
// Nil-safe: when not configured, Send logs and drops the messages.
type ExpoSender struct {
	httpClient  *http.Client
	url         string
	accessToken string
	parallel    int
	logger      *slog.Logger
}

// NewExpoSender creates an Expo sender. Returns nil if enabled is false
// (push delivery disabled).
func NewExpoSender(enabled bool, url, accessToken string, logger *slog.Logger) *ExpoSender {
	if !enabled {
		return nil
	}
	if url == "" {
		url = DefaultExpoPushURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpoSender{
		// The transport negotiates gzip and decompresses responses.
		httpClient:  &http.Client{Timeout: expoTimeout},
		url:         url,
		accessToken: accessToken,
		parallel:    defaultSendParallel,
		logger:      logger,
	}
}

type expoResponse struct {
	Data   []Ticket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Send delivers msgs in chunks of at most MaxBatchSize. Chunks are sent in
// parallel; the first failing chunk cancels the rest and its error is
// returned.
func (s *ExpoSender) Send(ctx context.Context, msgs []Message) ([]Ticket, error) {
	if s == nil {
		slog.Default().Info("Push delivery disabled, dropping messages", "count", len(msgs))
		return nil, nil
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	tickets := make([]Ticket, len(msgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)

	for start := 0; start < len(msgs); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(msgs))
		g.Go(func() error {
			got, err := s.sendChunk(gctx, msgs[start:end])
			if err != nil {
				return fmt.Errorf("chunk %d-%d: %w", start, end, err)
			}
			copy(tickets[start:end], got)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Info("Push messages sent", "count", len(msgs), "chunks", (len(msgs)+MaxBatchSize-1)/MaxBatchSize)
	return tickets, nil
}

func (s *ExpoSender) sendChunk(ctx context.Context, chunk []Message) ([]Ticket, error) {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.accessToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post to expo: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("expo returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var out expoResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("expo request error %s: %s", out.Errors[0].Code, out.Errors[0].Message)
	}
	if len(out.Data) != len(chunk) {
		return nil, fmt.Errorf("expo returned %d tickets for %d messages", len(out.Data), len(chunk))
	}
	return out.Data, nil
}

func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
