package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shiplog/shiplog-go/internal/event"
)

const logsPath = "/api/logs"

type Sender struct {
	host       string
	apiKey     string
	httpClient *http.Client
}

func NewSender(host, apiKey string, timeout time.Duration) *Sender {
	return &Sender{
		host:       strings.TrimRight(host, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *Sender) SetHTTPClient(client *http.Client) {
	if client != nil {
		s.httpClient = client
	}
}

// Send delivers one event and classifies the outcome: nil on 2xx,
// ErrRateLimited on 429, ServerRejectionError on any other received
// status, TransportError when no response was obtained, EncodingError
// when the request body cannot be built.
func (s *Sender) Send(ctx context.Context, ev event.Event) error {
	if s.host == "" || s.apiKey == "" {
		return ErrNotConfigured
	}

	body, err := ev.MarshalWire()
	if err != nil {
		return &EncodingError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.host+logsPath, bytes.NewReader(body))
	if err != nil {
		return &EncodingError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return &ServerRejectionError{StatusCode: resp.StatusCode}
	}
}
