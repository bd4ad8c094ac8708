// Package dispatch sends recognized questions to the shop backend.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/itshop/voiceqa/internal/observe"
	"github.com/itshop/voiceqa/internal/session"
)

const maxResponseBytes = 4 << 20

// Breaker configures the circuit breaker around backend calls.
type Breaker struct {
	Enable      bool
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Options configures a Client.
type Options struct {
	Endpoint   string
	Timeout    time.Duration
	Breaker    Breaker
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *observe.Metrics
}

// Client posts transcripts to the backend answer endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
	metrics    *observe.Metrics
}

var _ session.Dispatcher = (*Client)(nil)

type questionRequest struct {
	Text string `json:"text"`
}

// statusError marks a non-2xx backend reply.
type statusError struct {
	code int
}

func (e statusError) Error() string {
	return fmt.Sprintf("backend returned HTTP %d", e.code)
}

// New builds a dispatcher for opts.Endpoint.
func New(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("dispatch: backend endpoint must not be empty")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	c := &Client{
		endpoint:   opts.Endpoint,
		httpClient: httpClient,
		logger:     logger,
		metrics:    metrics,
	}

	if opts.Breaker.Enable {
		maxFailures := opts.Breaker.MaxFailures
		if maxFailures == 0 {
			maxFailures = 5
		}
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "backend",
			MaxRequests: 1,
			Timeout:     opts.Breaker.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn("circuit breaker state changed",
					"breaker", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
		})
	}

	return c, nil
}

// Dispatch posts {"text": transcript} and decodes the reply. Every failure
// is folded into the returned outcome's Error field.
func (c *Client) Dispatch(ctx context.Context, transcript string) session.Outcome {
	start := time.Now()

	var (
		outcome session.Outcome
		err     error
	)
	if c.breaker != nil {
		var res any
		res, err = c.breaker.Execute(func() (any, error) {
			return c.post(ctx, transcript)
		})
		if err == nil {
			outcome = res.(session.Outcome)
		}
	} else {
		outcome, err = c.post(ctx, transcript)
	}

	status := "ok"
	if err != nil {
		status = "error"
		outcome = session.Outcome{Error: describe(err)}
		c.metrics.RecordProviderError(ctx, "backend", errorKind(err))
		c.logger.Warn("backend dispatch failed", "error", err.Error())
	}
	observe.ObserveSince(ctx, c.metrics.DispatchDuration, start, observe.Attr("status", status))
	return outcome
}

func (c *Client) post(ctx context.Context, transcript string) (session.Outcome, error) {
	body, err := json.Marshal(questionRequest{Text: transcript})
	if err != nil {
		return session.Outcome{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return session.Outcome{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return session.Outcome{}, fmt.Errorf("request backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return session.Outcome{}, statusError{code: resp.StatusCode}
	}

	var outcome session.Outcome
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&outcome); err != nil {
		return session.Outcome{}, fmt.Errorf("decode backend response: %w", err)
	}
	return outcome, nil
}

func describe(err error) string {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "backend unavailable: circuit breaker is open"
	default:
		return err.Error()
	}
}

func errorKind(err error) string {
	var se statusError
	switch {
	case errors.As(err, &se):
		return "status"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "transport"
	}
}
