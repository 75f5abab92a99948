// Package webhook fires the orchestrator's failure notification: a single
// best-effort POST, bounded by a short timeout, whose errors are logged
// and swallowed — a broken notification endpoint must never affect a
// book's pipeline outcome.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rodaddy/audiobook-pipeline/internal/logger"
)

// Timeout bounds every webhook POST.
const Timeout = 5 * time.Second

// Payload is the JSON body sent on permanent failure or retry exhaustion.
type Payload struct {
	EventID    string    `json:"event_id"`
	Timestamp  time.Time `json:"timestamp"`
	BookHash   string    `json:"book_hash"`
	SourcePath string    `json:"source_path"`
	Stage      string    `json:"stage"`
	Category   string    `json:"category"`
	Message    string    `json:"message"`
	RetryCount int       `json:"retry_count"`
}

// Notifier posts failure events to a configured URL. A zero-value Notifier
// (URL == "") is a no-op.
type Notifier struct {
	URL    string
	Client *http.Client
}

// New returns a Notifier posting to url with Timeout as its client timeout.
func New(url string) *Notifier {
	return &Notifier{URL: url, Client: &http.Client{Timeout: Timeout}}
}

// Fire builds a Payload and POSTs it. Any failure — bad URL, network
// error, non-2xx response — is logged at warn level and otherwise
// ignored; Fire never returns an error for the caller to handle.
func (n *Notifier) Fire(ctx context.Context, bookHash, sourcePath, stage, category, message string, retryCount int) {
	if n == nil || n.URL == "" {
		return
	}

	payload := Payload{
		EventID:    uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		BookHash:   bookHash,
		SourcePath: sourcePath,
		Stage:      stage,
		Category:   category,
		Message:    message,
		RetryCount: retryCount,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("webhook: encode payload")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("webhook: build request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("webhook: request failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.FromContext(ctx).Warn().
			Str("event_id", payload.EventID).
			Int("status", resp.StatusCode).
			Msg(fmt.Sprintf("webhook: non-2xx response for %s", stage))
	}
}
