package asr

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/itshop/voiceqa/internal/audio"
	"github.com/itshop/voiceqa/internal/observe"
)

func newTestClient(t *testing.T, url string, language string) *Client {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	require.NoError(t, err)

	client, err := New(Options{URL: url, Language: language, Model: "large-v3", Metrics: metrics})
	require.NoError(t, err)
	return client
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Options{URL: "  "})
	require.Error(t, err)
}

func TestRecognizerLanguage(t *testing.T) {
	require.Equal(t, "th", recognizerLanguage("th-TH"))
	require.Equal(t, "en", recognizerLanguage("en_US"))
	require.Equal(t, "th", recognizerLanguage("TH"))
	require.Empty(t, recognizerLanguage(""))
}

func TestRecognizeUploadsWAV(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/inference", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "th", r.FormValue("language"))
		require.Equal(t, "large-v3", r.FormValue("model"))
		require.Equal(t, "json", r.FormValue("response_format"))

		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, err := io.ReadAll(file)
		require.NoError(t, err)

		parsed, err := audio.ParseWAV(data)
		require.NoError(t, err)
		require.Equal(t, audio.SampleRate, parsed.SampleRate)
		require.Equal(t, pcm, parsed.Data)

		_, _ = w.Write([]byte(`{"text":" มี SSD 1TB ไหม "}`))
	}))
	defer server.Close()

	text, err := newTestClient(t, server.URL+"/", "th-TH").Recognize(context.Background(), pcm)
	require.NoError(t, err)
	require.Equal(t, " มี SSD 1TB ไหม ", text)
}

func TestRecognizeServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, "th").Recognize(context.Background(), []byte{0, 0})
	require.ErrorIs(t, err, ErrUnreachable)
	require.Contains(t, err.Error(), "HTTP 503")
}

func TestRecognizeTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newTestClient(t, url, "th").Recognize(context.Background(), []byte{0, 0})
	require.True(t, errors.Is(err, ErrUnreachable))
}

func TestRecognizeBadJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, "th").Recognize(context.Background(), []byte{0, 0})
	require.ErrorContains(t, err, "parse recognizer response")
	require.NotErrorIs(t, err, ErrUnreachable)
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	require.NoError(t, newTestClient(t, server.URL, "th").Ping(context.Background()))

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()
	require.ErrorIs(t, newTestClient(t, broken.URL, "th").Ping(context.Background()), ErrUnreachable)
}
