// Package feed streams session snapshots to presentation clients over a
// websocket, and optionally accepts control commands from them.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/itshop/voiceqa/internal/ipc"
	"github.com/itshop/voiceqa/internal/observe"
	"github.com/itshop/voiceqa/internal/session"
)

const writeTimeout = 5 * time.Second

// Source publishes snapshots. The first value is the current snapshot.
type Source interface {
	Subscribe() (<-chan session.Snapshot, func())
}

// Options configures a Handler.
type Options struct {
	// Commands receives ipc.Request frames sent by clients. Nil makes the
	// feed read-only.
	Commands ipc.Handler
	// OriginPatterns lists allowed browser origins besides the request host.
	OriginPatterns []string
	Logger         *slog.Logger
	Metrics        *observe.Metrics
}

// Handler serves the /ws endpoint.
type Handler struct {
	ctx     context.Context
	src     Source
	opts    Options
	logger  *slog.Logger
	metrics *observe.Metrics
}

// NewHandler builds a Handler whose connections end when ctx is done.
func NewHandler(ctx context.Context, src Source, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Handler{ctx: ctx, src: src, opts: opts, logger: logger, metrics: metrics}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		h.logger.Warn("feed accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.CloseNow()

	h.metrics.FeedClients.Add(h.ctx, 1)
	defer h.metrics.FeedClients.Add(context.Background(), -1)
	h.logger.Debug("feed client connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	if h.opts.Commands == nil {
		ctx = conn.CloseRead(ctx)
	} else {
		go h.readCommands(ctx, cancel, conn)
	}

	snaps, unsubscribe := h.src.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			if h.ctx.Err() != nil {
				_ = conn.Close(websocket.StatusGoingAway, "voiceqa shutting down")
			}
			return
		case snap := <-snaps:
			if err := h.write(ctx, conn, snap); err != nil {
				if !isClosed(err) {
					h.logger.Warn("feed write failed", "remote", r.RemoteAddr, "error", err)
				}
				return
			}
		}
	}
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, snap session.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, snap)
}

// readCommands applies client commands until the connection drops. Results
// reach the client through the snapshot stream; only refusals are echoed.
func (h *Handler) readCommands(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	// Cancelling a Read closes the connection, which would pre-empt the
	// GoingAway close on shutdown. The reader ends when the conn closes.
	readCtx := context.WithoutCancel(ctx)
	for {
		var req ipc.Request
		if err := wsjson.Read(readCtx, conn, &req); err != nil {
			if !isClosed(err) && ctx.Err() == nil {
				h.logger.Warn("feed read failed", "error", err)
			}
			return
		}
		resp := h.opts.Commands.Handle(ctx, req)
		if resp.OK {
			continue
		}
		writeCtx, writeCancel := context.WithTimeout(ctx, writeTimeout)
		err := wsjson.Write(writeCtx, conn, resp)
		writeCancel()
		if err != nil {
			return
		}
	}
}

func isClosed(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	status := websocket.CloseStatus(err)
	return status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway
}
