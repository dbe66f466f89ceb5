// Package rpc exposes the leaderboard over the Connect protocol.
package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"ghleaderboard.shikanime.studio/internal/database"
	"ghleaderboard.shikanime.studio/internal/leaderboard"
	"ghleaderboard.shikanime.studio/internal/scoring"
	"ghleaderboard.shikanime.studio/internal/view"
)

const (
	ServiceName = "ghleaderboard.v1.LeaderboardService"

	GetLeaderboardProcedure  = "/" + ServiceName + "/GetLeaderboard"
	GetScoreProcedure        = "/" + ServiceName + "/GetScore"
	RefreshScoreProcedure    = "/" + ServiceName + "/RefreshScore"
	SubmitSnapshotProcedure  = "/" + ServiceName + "/SubmitSnapshot"
	GetAchievementsProcedure = "/" + ServiceName + "/GetAchievements"
	ListActivityProcedure    = "/" + ServiceName + "/ListActivity"
	CompareUsersProcedure    = "/" + ServiceName + "/CompareUsers"
	RegisterProcedure        = "/" + ServiceName + "/Register"
	NavigateProcedure        = "/" + ServiceName + "/Navigate"
)

// UserHeader carries the username validated by the auth collaborator.
const UserHeader = "X-GitHub-User"

const (
	msgRefreshFailed = "could not refresh your score"
	msgUnavailable   = "leaderboard temporarily unavailable"
)

// LeaderboardService implements the leaderboard RPC service.
type LeaderboardService struct {
	lb *leaderboard.Leaderboard
}

// NewLeaderboardService constructs a LeaderboardService backed by lb.
func NewLeaderboardService(lb *leaderboard.Leaderboard) *LeaderboardService {
	return &LeaderboardService{lb: lb}
}

// NewHandler mounts every procedure of the service and returns the path prefix to route to it.
func NewHandler(s *LeaderboardService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{
		connect.WithCodec(JSONCodec{}),
		connect.WithCodec(charsetJSONCodec{}),
	}, opts...)
	mux := http.NewServeMux()
	mux.Handle(GetLeaderboardProcedure, connect.NewUnaryHandler(GetLeaderboardProcedure, s.GetLeaderboard, opts...))
	mux.Handle(GetScoreProcedure, connect.NewUnaryHandler(GetScoreProcedure, s.GetScore, opts...))
	mux.Handle(RefreshScoreProcedure, connect.NewUnaryHandler(RefreshScoreProcedure, s.RefreshScore, opts...))
	mux.Handle(SubmitSnapshotProcedure, connect.NewUnaryHandler(SubmitSnapshotProcedure, s.SubmitSnapshot, opts...))
	mux.Handle(GetAchievementsProcedure, connect.NewUnaryHandler(GetAchievementsProcedure, s.GetAchievements, opts...))
	mux.Handle(ListActivityProcedure, connect.NewUnaryHandler(ListActivityProcedure, s.ListActivity, opts...))
	mux.Handle(CompareUsersProcedure, connect.NewUnaryHandler(CompareUsersProcedure, s.CompareUsers, opts...))
	mux.Handle(RegisterProcedure, connect.NewUnaryHandler(RegisterProcedure, s.Register, opts...))
	mux.Handle(NavigateProcedure, connect.NewUnaryHandler(NavigateProcedure, s.Navigate, opts...))
	return "/" + ServiceName + "/", mux
}

// Ping reports whether the backing store is reachable.
func (s *LeaderboardService) Ping(ctx context.Context) error { return s.lb.Ping(ctx) }

// toConnectError maps leaderboard errors onto Connect codes. Store failures
// are reported with a fixed message and logged with their cause.
func toConnectError(ctx context.Context, err error) error {
	var (
		ise *scoring.InvalidSnapshotError
		sue *leaderboard.StoreUnavailableError
		sfe *leaderboard.SnapshotFetchError
		te  *view.TransitionError
	)
	switch {
	case errors.As(err, &ise),
		errors.Is(err, leaderboard.ErrInvalidUsername),
		errors.Is(err, leaderboard.ErrInvalidProfileURL):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, leaderboard.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, leaderboard.ErrUserExists):
		return connect.NewError(connect.CodeAlreadyExists, err)
	case errors.As(err, &te):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.As(err, &sue):
		slog.ErrorContext(ctx, "Store unavailable", "op", sue.Op, "error", sue.Err)
		return connect.NewError(connect.CodeUnavailable, errors.New(msgUnavailable))
	case errors.As(err, &sfe):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

func requireUser(h http.Header) (string, error) {
	u := strings.TrimSpace(h.Get(UserHeader))
	if u == "" {
		return "", connect.NewError(connect.CodeUnauthenticated, errors.New("missing "+UserHeader+" header"))
	}
	return u, nil
}

var tracer = otel.Tracer("ghleaderboard/rpc")

// GetLeaderboard returns the ranked leaderboard.
func (s *LeaderboardService) GetLeaderboard(
	ctx context.Context,
	req *connect.Request[GetLeaderboardRequest],
) (*connect.Response[GetLeaderboardResponse], error) {
	ctx, span := tracer.Start(ctx, "LeaderboardService.GetLeaderboard")
	span.SetAttributes(attribute.Int("limit", req.Msg.Limit))
	defer span.End()
	entries, err := s.lb.Leaderboard(ctx, req.Msg.Limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, toConnectError(ctx, err)
	}
	if entries == nil {
		entries = []database.LeaderboardEntry{}
	}
	return connect.NewResponse(&GetLeaderboardResponse{Entries: entries}), nil
}

// GetScore returns the stored score of a user.
func (s *LeaderboardService) GetScore(
	ctx context.Context,
	req *connect.Request[GetScoreRequest],
) (*connect.Response[GetScoreResponse], error) {
	ctx, span := tracer.Start(ctx, "LeaderboardService.GetScore")
	span.SetAttributes(attribute.String("username", req.Msg.Username))
	defer span.End()
	rec, err := s.lb.Score(ctx, req.Msg.Username)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, toConnectError(ctx, err)
	}
	return connect.NewResponse(&GetScoreResponse{Score: rec}), nil
}

// RefreshScore refreshes the acting user's score from GitHub. A failed fetch
// is not an error: the current score is returned with a warning.
func (s *LeaderboardService) RefreshScore(
	ctx context.Context,
	req *connect.Request[RefreshScoreRequest],
) (*connect.Response[RefreshScoreResponse], error) {
	ctx, span := tracer.Start(ctx, "LeaderboardService.RefreshScore")
	defer span.End()
	username, err := requireUser(req.Header())
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("username", username))
	rec, delta, err := s.lb.Refresh(ctx, username)
	var sfe *leaderboard.SnapshotFetchError
	switch {
	case errors.As(err, &sfe):
		span.RecordError(err)
		res := &RefreshScoreResponse{Warning: msgRefreshFailed}
		cur, scoreErr := s.lb.Score(ctx, username)
		if scoreErr != nil && !errors.Is(scoreErr, leaderboard.ErrNotFound) {
			return nil, toConnectError(ctx, scoreErr)
		}
		res.Score = cur
		return connect.NewResponse(res), nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, toConnectError(ctx, err)
	}
	return connect.NewResponse(&RefreshScoreResponse{Score: rec, Delta: delta}), nil
}

// SubmitSnapshot records a snapshot pushed by the GitHub data collaborator.
func (s *LeaderboardService) SubmitSnapshot(
	ctx context.Context,
	req *connect.Request[SubmitSnapshotRequest],
) (*connect.Response[SubmitSnapshotResponse], error) {
	ctx, span := tracer.Start(ctx, "LeaderboardService.SubmitSnapshot")
	span.SetAttributes(attribute.String("username", req.Msg.Username))
	defer span.End()
	snapshot, err := scoring.ParseSnapshot(req.Msg.Snapshot)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, toConnectError(ctx, err)
	}
	rec, delta, err := s.lb.Upsert(ctx, req.Msg.Username, snapshot)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, toConnectError(ctx, err)
	}
	return connect.NewResponse(&SubmitSnapshotResponse{Score: rec, Delta: delta}), nil
}

// GetAchievements evaluates the achievement catalog for a user.
func (s *LeaderboardService) GetAchievements(
	ctx context.Context,
	req *connect.Request[GetAchievementsRequest],
) (*connect.Response[GetAchievementsResponse], error) {
	ctx, span := tracer.Start(ctx, "LeaderboardService.GetAchievements")
	span.SetAttributes(attribute.String("username", req.Msg.Username))
	defer span.End()
	results, err := s.lb.Achievements(ctx, req.Msg.Username)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, toConnectError(ctx, err)
	}
	return connect.NewResponse(&GetAchievementsResponse{Achievements: results}), nil
}

// ListActivity returns the score change feed of a user.
func (s *LeaderboardService) ListActivity(
	ctx context.Context,
	req *connect.Request[ListActivityRequest],
) (*connect.Response[ListActivityResponse], error) {
	ctx, span := tracer.Start(ctx, "LeaderboardService.ListActivity")
	span.SetAttributes(attribute.String("username", req.Msg.Username))
	defer span.End()
	entries, err := s.lb.Activity(ctx, req.Msg.Username, req.Msg.Limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, toConnectError(ctx, err)
	}
	if entries == nil {
		entries = []database.ActivityLogEntry{}
	}
	return connect.NewResponse(&ListActivityResponse{Entries: entries}), nil
}

// CompareUsers puts two users side by side.
func (s *LeaderboardService) CompareUsers(
	ctx context.Context,
	req *connect.Request[CompareUsersRequest],
) (*connect.Response[CompareUsersResponse], error) {
	ctx, span := tracer.Start(ctx, "LeaderboardService.CompareUsers")
	span.SetAttributes(attribute.String("left", req.Msg.Left), attribute.String("right", req.Msg.Right))
	defer span.End()
	c, err := s.lb.Compare(ctx, req.Msg.Left, req.Msg.Right)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, toConnectError(ctx, err)
	}
	return connect.NewResponse(&CompareUsersResponse{Comparison: c}), nil
}

// Register signs up a user from a GitHub profile URL.
func (s *LeaderboardService) Register(
	ctx context.Context,
	req *connect.Request[RegisterRequest],
) (*connect.Response[RegisterResponse], error) {
	ctx, span := tracer.Start(ctx, "LeaderboardService.Register")
	defer span.End()
	u, err := s.lb.Register(ctx, req.Msg.ProfileURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, toConnectError(ctx, err)
	}
	return connect.NewResponse(&RegisterResponse{User: u}), nil
}

// Navigate validates a move between dashboard views.
func (s *LeaderboardService) Navigate(
	ctx context.Context,
	req *connect.Request[NavigateRequest],
) (*connect.Response[NavigateResponse], error) {
	_, span := tracer.Start(ctx, "LeaderboardService.Navigate")
	span.SetAttributes(attribute.String("from", req.Msg.From.String()), attribute.String("to", req.Msg.To.String()))
	defer span.End()
	if req.Msg.To.RequiresAuth() {
		if _, err := requireUser(req.Header()); err != nil {
			return nil, err
		}
	}
	v, err := view.Navigate(req.Msg.From, req.Msg.To)
	if err != nil {
		return nil, toConnectError(ctx, err)
	}
	return connect.NewResponse(&NavigateResponse{View: v, Next: view.Next(v)}), nil
}
