package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"time"

	"connectrpc.com/connect"
	grpchealth "connectrpc.com/grpchealth"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"ghleaderboard.shikanime.studio/internal/config"
	"ghleaderboard.shikanime.studio/internal/leaderboard"
	"ghleaderboard.shikanime.studio/internal/rpc"
)

// Server holds handlers and dependencies for the leaderboard HTTP server.
type Server struct {
	lb  *leaderboard.Leaderboard
	mux *stdhttp.ServeMux
}

// NewServer initializes a Server and mounts the leaderboard service and gRPC health handler.
func NewServer(lb *leaderboard.Leaderboard) *Server {
	mux := stdhttp.NewServeMux()
	path, handler := rpc.NewHandler(rpc.NewLeaderboardService(lb))
	mux.Handle(path, handler)
	hpath, hhandler := grpchealth.NewHandler(HealthChecker{lb: lb})
	mux.Handle(hpath, hhandler)
	return &Server{lb: lb, mux: mux}
}

// NewServerForConfig builds the leaderboard from cfg and returns a configured Server.
func NewServerForConfig(cfg *config.Config) (*Server, error) {
	lb, err := leaderboard.NewForConfig(cfg)
	if err != nil {
		return nil, err
	}
	return NewServer(lb), nil
}

// Leaderboard returns the leaderboard served by s.
func (s *Server) Leaderboard() *leaderboard.Leaderboard { return s.lb }

// Handler returns the instrumented root handler.
func (s *Server) Handler() stdhttp.Handler {
	return otelhttp.NewHandler(s.mux, "http.server")
}

// Close releases the store behind the server.
func (s *Server) Close() error {
	if s.lb != nil {
		return s.lb.Close()
	}
	return nil
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &stdhttp.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, stdhttp.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.InfoContext(ctx, "Server shutting down", "addr", addr)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// HealthChecker reports health based on store connectivity.
type HealthChecker struct{ lb *leaderboard.Leaderboard }

// Check implements grpchealth.Checker. It returns StatusServing when the store ping succeeds.
func (c HealthChecker) Check(
	ctx context.Context,
	req *grpchealth.CheckRequest,
) (*grpchealth.CheckResponse, error) {
	tracer := otel.Tracer("ghleaderboard/http")
	ctx, span := tracer.Start(ctx, "HealthChecker.Check")
	defer span.End()
	switch req.Service {
	case "":
		return &grpchealth.CheckResponse{Status: grpchealth.StatusNotServing}, nil
	case rpc.ServiceName:
		if err := c.lb.Ping(ctx); err != nil {
			return &grpchealth.CheckResponse{Status: grpchealth.StatusNotServing}, nil
		}
		return &grpchealth.CheckResponse{Status: grpchealth.StatusServing}, nil
	default:
		return nil, connect.NewError(
			connect.CodeNotFound,
			fmt.Errorf("unknown service: %s", req.Service),
		)
	}
}
