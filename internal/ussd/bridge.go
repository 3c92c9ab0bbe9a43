package ussd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/thrillee/ussdbox/internal/config"
)

// Bridge performs the synchronous backend call for one subscriber input and
// always has a reply: on any transport failure, timeout, bad status or empty
// body it returns the configured fallback text so the subscriber is never
// left silent.
type Bridge struct {
	processURL string
	username   string
	password   string
	port       int
	network    string
	fallback   string
	httpClient *http.Client
}

func NewBridge(cfg *config.Config) *Bridge {
	timeout := cfg.Backend.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Bridge{
		processURL: cfg.Backend.ProcessURL,
		username:   cfg.Backend.Username,
		password:   cfg.Backend.Password,
		port:       cfg.Backend.Port,
		network:    cfg.Backend.Network,
		fallback:   cfg.Backend.FallbackMessage,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Invoke forwards the subscriber input to the backend and returns the reply
// text. The error return is informational only; the reply is always usable.
func (b *Bridge) Invoke(ctx context.Context, msisdn, sessionID, input string) (string, error) {
	q := url.Values{}
	q.Set("msisdn", msisdn)
	q.Set("sessionid", sessionID)
	q.Set("input", input)
	q.Set("sendussd_port", strconv.Itoa(b.port))
	q.Set("network", b.network)
	callURL := b.processURL + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, callURL, nil)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to build backend request", slog.Any("error", err))
		return b.fallback, err
	}
	if b.username != "" {
		req.SetBasicAuth(b.username, b.password)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		slog.ErrorContext(ctx, "Backend request failed", slog.Any("error", err), slog.String("url", b.processURL))
		return b.fallback, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("backend returned status %d", resp.StatusCode)
		slog.ErrorContext(ctx, "Backend request rejected", slog.Any("error", err))
		return b.fallback, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to read backend response", slog.Any("error", err))
		return b.fallback, err
	}

	reply := strings.TrimSpace(string(body))
	if reply == "" {
		return b.fallback, nil
	}
	return reply, nil
}
