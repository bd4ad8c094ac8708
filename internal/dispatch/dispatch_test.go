package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/itshop/voiceqa/internal/observe"
	"github.com/itshop/voiceqa/internal/session"
)

func newTestClient(t *testing.T, endpoint string, breaker Breaker) *Client {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	require.NoError(t, err)

	client, err := New(Options{Endpoint: endpoint, Breaker: breaker, Metrics: metrics})
	require.NoError(t, err)
	return client
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestDispatchPostsTextAndDecodesOutcome(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/voice", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, map[string]any{"text": "มี SSD 1TB ไหม"}, body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"transcript": "มี SSD 1TB ไหม",
			"answer": "มีครับ ราคา 2,590 บาท",
			"matches": [{"name": "SSD 1TB", "price": 2590, "images": "/ssd.jpg", "sku": "S-1"}]
		}`))
	}))
	defer server.Close()

	out := newTestClient(t, server.URL+"/api/voice", Breaker{}).Dispatch(context.Background(), "มี SSD 1TB ไหม")
	require.Empty(t, out.Error)
	require.Equal(t, "มี SSD 1TB ไหม", out.Transcript)
	require.Equal(t, "มีครับ ราคา 2,590 บาท", out.Answer)
	require.Len(t, out.Matches, 1)
	require.Equal(t, "SSD 1TB", out.Matches[0].Name())
	require.Equal(t, "2590", out.Matches[0].Price())
	require.Equal(t, "S-1", out.Matches[0]["sku"])
}

func TestDispatchEmptyTranscriptStillResolves(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body questionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Empty(t, body.Text)
		_, _ = w.Write([]byte(`{"error":"empty question"}`))
	}))
	defer server.Close()

	out := newTestClient(t, server.URL, Breaker{}).Dispatch(context.Background(), "")
	require.Equal(t, session.Outcome{Error: "empty question"}, out)
}

func TestDispatchFailuresBecomeErrorOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "http 500",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			want: "backend returned HTTP 500",
		},
		{
			name: "http 404 with json body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"answer":"ignored"}`))
			},
			want: "backend returned HTTP 404",
		},
		{
			name: "undecodable body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("<html>oops</html>"))
			},
			want: "decode backend response",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(tc.handler)
			defer server.Close()

			out := newTestClient(t, server.URL, Breaker{}).Dispatch(context.Background(), "q")
			require.Contains(t, out.Error, tc.want)
			require.Empty(t, out.Answer)
		})
	}
}

func TestDispatchTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := server.URL
	server.Close()

	out := newTestClient(t, endpoint, Breaker{}).Dispatch(context.Background(), "q")
	require.Contains(t, out.Error, "request backend")
}

func TestDispatchHonoursCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan session.Outcome, 1)
	go func() {
		done <- newTestClient(t, server.URL, Breaker{}).Dispatch(ctx, "q")
	}()
	cancel()

	select {
	case out := <-done:
		require.Contains(t, out.Error, "context canceled")
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not return after cancellation")
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Breaker{Enable: true, MaxFailures: 2, OpenTimeout: time.Minute})

	require.Equal(t, "backend returned HTTP 502", client.Dispatch(context.Background(), "a").Error)
	require.Equal(t, "backend returned HTTP 502", client.Dispatch(context.Background(), "b").Error)

	out := client.Dispatch(context.Background(), "c")
	require.Equal(t, "backend unavailable: circuit breaker is open", out.Error)
	require.Equal(t, int32(2), hits.Load())
}

func TestBackendReportedErrorDoesNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":"not found in catalog"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Breaker{Enable: true, MaxFailures: 1, OpenTimeout: time.Minute})
	for range 3 {
		require.Equal(t, "not found in catalog", client.Dispatch(context.Background(), "q").Error)
	}
}
