// Package asr transcribes recorded questions with a whisper.cpp compatible
// HTTP server (POST /inference, multipart WAV upload).
package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/itshop/voiceqa/internal/audio"
	"github.com/itshop/voiceqa/internal/observe"
)

const inferenceEndpoint = "/inference"

// ErrUnreachable wraps failures talking to the recognizer.
var ErrUnreachable = errors.New("speech recognizer unreachable")

// Options configures a Client.
type Options struct {
	URL        string
	Language   string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Metrics    *observe.Metrics
}

// Client submits one utterance per request and returns the best alternative.
type Client struct {
	url        string
	language   string
	model      string
	httpClient *http.Client
	metrics    *observe.Metrics
}

// New validates opts and builds a Client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("asr: recognizer url must not be empty")
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
		language:   recognizerLanguage(opts.Language),
		model:      opts.Model,
		httpClient: httpClient,
		metrics:    metrics,
	}, nil
}

// recognizerLanguage reduces a BCP-47 tag to the base code whisper expects.
func recognizerLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

// Recognize transcribes 16kHz mono s16 PCM. Transport and server failures
// wrap ErrUnreachable.
func (c *Client) Recognize(ctx context.Context, pcm []byte) (string, error) {
	start := time.Now()
	text, err := c.infer(ctx, pcm)
	status := "ok"
	if err != nil {
		status = "error"
		if ctx.Err() == nil {
			c.metrics.RecordProviderError(ctx, "asr", "request")
		}
	}
	observe.ObserveSince(ctx, c.metrics.RecognizeDuration, start, observe.Attr("status", status))
	return text, err
}

func (c *Client) infer(ctx context.Context, pcm []byte) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	file, err := form.CreateFormFile("file", "question.wav")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if err := audio.WriteWAV(file, pcm, audio.SampleRate, 1); err != nil {
		return "", fmt.Errorf("write wav data: %w", err)
	}

	fields := map[string]string{
		"response_format": "json",
		"temperature":     "0.0",
		"language":        c.language,
		"model":           c.model,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := form.WriteField(name, value); err != nil {
			return "", fmt.Errorf("write %s field: %w", name, err)
		}
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+inferenceEndpoint, &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: server returned HTTP %d", ErrUnreachable, resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("parse recognizer response: %w", err)
	}
	return result.Text, nil
}

// Ping checks that the recognizer answers HTTP at its base URL.
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
