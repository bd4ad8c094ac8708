// Package tts synthesizes spoken answers with a Coqui TTS compatible server.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/itshop/voiceqa/internal/audio"
	"github.com/itshop/voiceqa/internal/observe"
)

const (
	synthesizeEndpoint = "/api/tts"
	maxAudioBytes      = 32 << 20
)

// ErrUnreachable wraps failures talking to the synthesizer.
var ErrUnreachable = errors.New("speech synthesizer unreachable")

// Request is one utterance to synthesize.
type Request struct {
	Text  string
	Lang  string
	Rate  float64
	Pitch float64
}

// Options configures a Client.
type Options struct {
	URL        string
	Speaker    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Metrics    *observe.Metrics
}

// Client fetches WAV audio for text.
type Client struct {
	url        string
	speaker    string
	httpClient *http.Client
	metrics    *observe.Metrics
}

// New validates opts and builds a Client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("tts: synthesizer url must not be empty")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Client{
		url:        strings.TrimRight(opts.URL, "/"),
		speaker:    opts.Speaker,
		httpClient: httpClient,
		metrics:    metrics,
	}, nil
}

// Synthesize returns the decoded WAV for req.
func (c *Client) Synthesize(ctx context.Context, req Request) (audio.WAV, error) {
	start := time.Now()
	wav, err := c.synthesize(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
		if ctx.Err() == nil {
			c.metrics.RecordProviderError(ctx, "tts", "request")
		}
	}
	observe.ObserveSince(ctx, c.metrics.SynthesizeDuration, start, observe.Attr("status", status))
	return wav, err
}

func (c *Client) synthesize(ctx context.Context, req Request) (audio.WAV, error) {
	if strings.TrimSpace(req.Text) == "" {
		return audio.WAV{}, errors.New("nothing to synthesize")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+synthesizeEndpoint+"?"+c.query(req).Encode(), nil)
	if err != nil {
		return audio.WAV{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return audio.WAV{}, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return audio.WAV{}, fmt.Errorf("%w: server returned HTTP %d", ErrUnreachable, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return audio.WAV{}, fmt.Errorf("read synthesized audio: %w", err)
	}
	wav, err := audio.ParseWAV(data)
	if err != nil {
		return audio.WAV{}, fmt.Errorf("decode synthesized audio: %w", err)
	}
	return wav, nil
}

func (c *Client) query(req Request) url.Values {
	q := url.Values{}
	q.Set("text", req.Text)
	if req.Lang != "" {
		q.Set("language_id", req.Lang)
	}
	if c.speaker != "" {
		q.Set("speaker_id", c.speaker)
	}
	if req.Rate > 0 {
		q.Set("speed", strconv.FormatFloat(req.Rate, 'f', -1, 64))
	}
	if req.Pitch > 0 {
		q.Set("pitch", strconv.FormatFloat(req.Pitch, 'f', -1, 64))
	}
	return q
}

// Ping checks that the synthesizer answers HTTP at its base URL.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: server returned HTTP %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}
