// Package shiplog is a client for the shiplog collector: log events are
// queued, shipped in the background over HTTP, and kept on disk across
// connectivity loss until delivered.
package shiplog

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/shiplog/shiplog-go/internal/config"
	"github.com/shiplog/shiplog-go/internal/event"
	"github.com/shiplog/shiplog-go/internal/flags"
	"github.com/shiplog/shiplog-go/internal/logging"
	"github.com/shiplog/shiplog-go/internal/pipeline"
	"github.com/shiplog/shiplog-go/internal/transport"
)

type Level = event.Level

const (
	LevelInfo     = event.LevelInfo
	LevelWarning  = event.LevelWarning
	LevelError    = event.LevelError
	LevelMessages = event.LevelMessages
)

// Error classification for the synchronous send path; the queued path
// never surfaces these to callers.
var (
	ErrNotConfigured = transport.ErrNotConfigured
	ErrRateLimited   = transport.ErrRateLimited
)

type (
	EncodingError        = transport.EncodingError
	TransportError       = transport.TransportError
	ServerRejectionError = transport.ServerRejectionError
)

type Config = config.Config

// LoadConfig reads configuration from SHIPLOG_-prefixed environment
// variables.
func LoadConfig(ctx context.Context) (*Config, error) {
	return config.Load(ctx)
}

type Snapshot = pipeline.Snapshot

// Client is the public facade. Severity methods are fire-and-forget:
// they truncate content, fill in the default user identifier, coerce
// metadata to primitives, and enqueue without ever blocking the caller.
type Client struct {
	cfg           *config.Config
	logger        *slog.Logger
	pipe          *pipeline.Pipeline
	defaultUserID string
	flagsClient   *http.Client
}

func New(cfg *Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		l, err := logging.Setup(os.Stderr, cfg.LogLevel)
		if err != nil {
			l = slog.New(slog.NewTextHandler(io.Discard, nil))
		}
		logger = l
	}

	pipe, err := pipeline.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:         cfg,
		logger:      logger,
		pipe:        pipe,
		flagsClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
	if dir, err := cfg.ResolveCacheDir(); err == nil {
		c.defaultUserID = ensureUserID(dir)
	} else {
		c.defaultUserID = ephemeralUserID()
	}

	pipe.Start()
	return c, nil
}

func (c *Client) Info(content string, metadata map[string]any) {
	c.log(LevelInfo, "", content, metadata)
}

func (c *Client) Warning(content string, metadata map[string]any) {
	c.log(LevelWarning, "", content, metadata)
}

func (c *Client) Error(content string, metadata map[string]any) {
	c.log(LevelError, "", content, metadata)
}

func (c *Client) Messages(content string, metadata map[string]any) {
	c.log(LevelMessages, "", content, metadata)
}

// LogAs records an event for an explicit user instead of the default
// identifier.
func (c *Client) LogAs(level Level, userID, content string, metadata map[string]any) {
	c.log(level, userID, content, metadata)
}

func (c *Client) log(level Level, userID, content string, metadata map[string]any) {
	c.pipe.Enqueue(c.buildEvent(level, userID, content, metadata))
}

// SendNow delivers one event synchronously and returns the classified
// outcome. On transport failure the event is additionally persisted for
// later flushing when persistence is enabled, so a caller retrying by
// hand may produce a duplicate delivery.
func (c *Client) SendNow(ctx context.Context, level Level, content string, metadata map[string]any) error {
	if c == nil || c.pipe == nil {
		return ErrNotConfigured
	}
	return c.pipe.SendNow(ctx, c.buildEvent(level, "", content, metadata))
}

// Flags fetches the remote feature-flag set; failures yield an empty
// set, never an error.
func (c *Client) Flags(ctx context.Context) map[string]any {
	return flags.Fetch(ctx, c.flagsClient, c.cfg.Host, c.cfg.APIKey)
}

func (c *Client) Snapshot() Snapshot {
	return c.pipe.Snapshot()
}

// Close stops the background worker and watcher. Buffered queue events
// are abandoned; persisted records stay on disk for the next client's
// startup flush.
func (c *Client) Close() {
	c.pipe.Close()
}

func (c *Client) buildEvent(level Level, userID, content string, metadata map[string]any) event.Event {
	if userID == "" {
		userID = c.defaultUserID
	}
	return event.Event{
		Content:   event.TruncateBytes(content, c.cfg.MaxContentBytes),
		Level:     level,
		UserID:    userID,
		Metadata:  event.CoerceMetadata(metadata),
		CreatedAt: time.Now(),
	}
}
