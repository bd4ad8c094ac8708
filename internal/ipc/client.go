package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrNoOwner reports that no daemon is listening on the control socket.
var ErrNoOwner = errors.New("no voiceqa daemon listening")

// Send performs one control request/response roundtrip with a deadline.
// It returns an error wrapping ErrNoOwner when the socket is absent or stale.
func Send(ctx context.Context, path string, req Request, timeout time.Duration) (Response, error) {
	if err := reachable(path, timeout); err != nil {
		return Response{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dial(ctx, path)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()

	in, err := toStruct(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, methodDo, in, out); err != nil {
		return Response{}, fmt.Errorf("invoke %s: %w", req.Command, err)
	}

	var resp Response
	if err := fromStruct(out, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// Probe checks whether a responsive owner is currently listening on path.
func Probe(ctx context.Context, path string, timeout time.Duration) (bool, error) {
	if err := reachable(path, timeout); err != nil {
		if errors.Is(err, ErrNoOwner) {
			return false, nil
		}
		return false, fmt.Errorf("probe socket: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dial(ctx, path)
	if err != nil {
		return false, fmt.Errorf("probe socket: %w", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil {
		return false, fmt.Errorf("probe socket: %w", err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// reachable checks for a listener with a raw dial so callers can tell an
// absent daemon from a broken one without waiting on gRPC backoff.
func reachable(path string, timeout time.Duration) error {
	raw, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		if isSocketMissing(err) || isConnectionRefused(err) {
			return fmt.Errorf("%w on %s", ErrNoOwner, path)
		}
		return fmt.Errorf("dial %s: %w", path, err)
	}
	return raw.Close()
}

// dial opens a client connection to the unix socket and waits for Ready.
func dial(ctx context.Context, path string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(
		"unix://"+path,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("create IPC client: %w", err)
	}

	conn.Connect()
	if err := waitForReady(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
	return conn, nil
}

// waitForReady blocks until the connection enters Ready or fails.
func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("grpc connection entered shutdown state")
		case connectivity.TransientFailure:
			return errors.New("grpc connection failed")
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("grpc readiness wait timed out in state %s", state.String())
		}
	}
}

// isSocketMissing reports absent-socket failures.
func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist)
}

// isConnectionRefused reports no-listener failures.
func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
