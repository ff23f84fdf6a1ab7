package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"

	"github.com/mmynk/tatekae/internal/models"
	"github.com/mmynk/tatekae/internal/storage"
)

// LedgerServiceName is the fully-qualified name of the ledger RPC service.
const LedgerServiceName = "tatekae.v1.LedgerService"

// Procedure paths, one per RPC.
const (
	LedgerServiceStartSessionProcedure     = "/" + LedgerServiceName + "/StartSession"
	LedgerServiceJoinSessionProcedure      = "/" + LedgerServiceName + "/JoinSession"
	LedgerServiceAddPaymentProcedure       = "/" + LedgerServiceName + "/AddPayment"
	LedgerServiceCancelPaymentProcedure    = "/" + LedgerServiceName + "/CancelPayment"
	LedgerServiceSettleProcedure           = "/" + LedgerServiceName + "/Settle"
	LedgerServiceEndSessionProcedure       = "/" + LedgerServiceName + "/EndSession"
	LedgerServiceGetSessionProcedure       = "/" + LedgerServiceName + "/GetSession"
	LedgerServiceGetBalancesProcedure      = "/" + LedgerServiceName + "/GetBalances"
	LedgerServiceListUserSessionsProcedure = "/" + LedgerServiceName + "/ListUserSessions"
	LedgerServiceGetUserStatsProcedure     = "/" + LedgerServiceName + "/GetUserStats"
)

type StartSessionRequest struct {
	GroupID   string        `json:"groupId"`
	GroupName string        `json:"groupName"`
	Creator   models.Member `json:"creator"`
}

type SessionResponse struct {
	Session *models.Session `json:"session"`
}

type JoinSessionRequest struct {
	GroupID string        `json:"groupId"`
	Member  models.Member `json:"member"`
}

type JoinSessionResponse struct {
	Session *models.Session `json:"session"`
	Joined  bool            `json:"joined"`
}

type AddPaymentRequest struct {
	GroupID string `json:"groupId"`
	PayerID string `json:"payerId"`
	Label   string `json:"label"`
	Amount  int64  `json:"amount"`
}

type PaymentResponse struct {
	Payment models.Payment `json:"payment"`
	// Cancelled is set by CancelPayment; false means nothing was cancelled.
	Cancelled bool `json:"cancelled,omitempty"`
}

type GroupRequest struct {
	GroupID string `json:"groupId"`
}

type ReportResponse struct {
	Report Report `json:"report"`
}

type EndSessionResponse struct{}

type ListUserSessionsRequest struct {
	UserID string `json:"userId"`
	storage.UserSessionsOptions
}

type ListUserSessionsResponse struct {
	Sessions []*models.Session `json:"sessions"`
}

type GetUserStatsRequest struct {
	UserID string `json:"userId"`
}

type GetUserStatsResponse struct {
	Stats storage.UserStats `json:"stats"`
}

// LedgerService exposes SessionService over Connect with a JSON codec.
type LedgerService struct {
	sessions *SessionService
}

// NewLedgerService creates a LedgerService backed by sessions.
func NewLedgerService(sessions *SessionService) *LedgerService {
	return &LedgerService{sessions: sessions}
}

// NewLedgerServiceHandler builds an HTTP handler serving every ledger RPC.
// It returns the path prefix to mount the handler on.
func NewLedgerServiceHandler(svc *LedgerService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(LedgerServiceStartSessionProcedure,
		connect.NewUnaryHandler(LedgerServiceStartSessionProcedure, svc.StartSession, opts...))
	mux.Handle(LedgerServiceJoinSessionProcedure,
		connect.NewUnaryHandler(LedgerServiceJoinSessionProcedure, svc.JoinSession, opts...))
	mux.Handle(LedgerServiceAddPaymentProcedure,
		connect.NewUnaryHandler(LedgerServiceAddPaymentProcedure, svc.AddPayment, opts...))
	mux.Handle(LedgerServiceCancelPaymentProcedure,
		connect.NewUnaryHandler(LedgerServiceCancelPaymentProcedure, svc.CancelPayment, opts...))
	mux.Handle(LedgerServiceSettleProcedure,
		connect.NewUnaryHandler(LedgerServiceSettleProcedure, svc.Settle, opts...))
	mux.Handle(LedgerServiceEndSessionProcedure,
		connect.NewUnaryHandler(LedgerServiceEndSessionProcedure, svc.EndSession, opts...))
	mux.Handle(LedgerServiceGetSessionProcedure,
		connect.NewUnaryHandler(LedgerServiceGetSessionProcedure, svc.GetSession, opts...))
	mux.Handle(LedgerServiceGetBalancesProcedure,
		connect.NewUnaryHandler(LedgerServiceGetBalancesProcedure, svc.GetBalances, opts...))
	mux.Handle(LedgerServiceListUserSessionsProcedure,
		connect.NewUnaryHandler(LedgerServiceListUserSessionsProcedure, svc.ListUserSessions, opts...))
	mux.Handle(LedgerServiceGetUserStatsProcedure,
		connect.NewUnaryHandler(LedgerServiceGetUserStatsProcedure, svc.GetUserStats, opts...))

	return "/" + LedgerServiceName + "/", mux
}

// StartSession handles starting a new session for a group.
func (s *LedgerService) StartSession(ctx context.Context, req *connect.Request[StartSessionRequest]) (*connect.Response[SessionResponse], error) {
	slog.Info("StartSession request received", "group_id", req.Msg.GroupID, "creator", req.Msg.Creator.UserID)

	session, err := s.sessions.StartSession(ctx, req.Msg.GroupID, req.Msg.GroupName, req.Msg.Creator)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SessionResponse{Session: session}), nil
}

// JoinSession handles a member joining the active session.
func (s *LedgerService) JoinSession(ctx context.Context, req *connect.Request[JoinSessionRequest]) (*connect.Response[JoinSessionResponse], error) {
	slog.Info("JoinSession request received", "group_id", req.Msg.GroupID, "user_id", req.Msg.Member.UserID)

	session, joined, err := s.sessions.Join(ctx, req.Msg.GroupID, req.Msg.Member)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&JoinSessionResponse{Session: session, Joined: joined}), nil
}

// AddPayment handles recording a payment.
func (s *LedgerService) AddPayment(ctx context.Context, req *connect.Request[AddPaymentRequest]) (*connect.Response[PaymentResponse], error) {
	slog.Info("AddPayment request received",
		"group_id", req.Msg.GroupID,
		"payer_id", req.Msg.PayerID,
		"amount", req.Msg.Amount,
	)

	payment, err := s.sessions.AddPayment(ctx, req.Msg.GroupID, req.Msg.PayerID, req.Msg.Label, req.Msg.Amount)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&PaymentResponse{Payment: payment}), nil
}

// CancelPayment handles cancelling the most recent payment.
func (s *LedgerService) CancelPayment(ctx context.Context, req *connect.Request[GroupRequest]) (*connect.Response[PaymentResponse], error) {
	slog.Info("CancelPayment request received", "group_id", req.Msg.GroupID)

	payment, ok, err := s.sessions.CancelLastPayment(ctx, req.Msg.GroupID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&PaymentResponse{Payment: payment, Cancelled: ok}), nil
}

// Settle handles computing and storing settlements.
func (s *LedgerService) Settle(ctx context.Context, req *connect.Request[GroupRequest]) (*connect.Response[ReportResponse], error) {
	slog.Info("Settle request received", "group_id", req.Msg.GroupID)

	r, err := s.sessions.Settle(ctx, req.Msg.GroupID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ReportResponse{Report: r}), nil
}

// EndSession handles closing a session.
func (s *LedgerService) EndSession(ctx context.Context, req *connect.Request[GroupRequest]) (*connect.Response[EndSessionResponse], error) {
	slog.Info("EndSession request received", "group_id", req.Msg.GroupID)

	if err := s.sessions.EndSession(ctx, req.Msg.GroupID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&EndSessionResponse{}), nil
}

// GetSession handles looking up a group's live session.
func (s *LedgerService) GetSession(ctx context.Context, req *connect.Request[GroupRequest]) (*connect.Response[SessionResponse], error) {
	slog.Info("GetSession request received", "group_id", req.Msg.GroupID)

	session, err := s.sessions.GetSession(ctx, req.Msg.GroupID)
	if err != nil {
		return nil, toConnectError(err)
	}
	if session == nil {
		return nil, connect.NewError(connect.CodeNotFound, ErrSessionNotFound)
	}
	return connect.NewResponse(&SessionResponse{Session: session}), nil
}

// GetBalances handles computing the current report without storing it.
func (s *LedgerService) GetBalances(ctx context.Context, req *connect.Request[GroupRequest]) (*connect.Response[ReportResponse], error) {
	slog.Info("GetBalances request received", "group_id", req.Msg.GroupID)

	r, err := s.sessions.Balances(ctx, req.Msg.GroupID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ReportResponse{Report: r}), nil
}

// ListUserSessions handles listing a user's completed sessions.
func (s *LedgerService) ListUserSessions(ctx context.Context, req *connect.Request[ListUserSessionsRequest]) (*connect.Response[ListUserSessionsResponse], error) {
	slog.Info("ListUserSessions request received", "user_id", req.Msg.UserID)

	sessions, err := s.sessions.UserSessions(ctx, req.Msg.UserID, req.Msg.UserSessionsOptions)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ListUserSessionsResponse{Sessions: sessions}), nil
}

// GetUserStats handles a user's aggregate statistics.
func (s *LedgerService) GetUserStats(ctx context.Context, req *connect.Request[GetUserStatsRequest]) (*connect.Response[GetUserStatsResponse], error) {
	slog.Info("GetUserStats request received", "user_id", req.Msg.UserID)

	stats, err := s.sessions.UserStats(ctx, req.Msg.UserID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GetUserStatsResponse{Stats: stats}), nil
}

// toConnectError maps domain errors onto Connect codes.
func toConnectError(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, ErrSessionActive):
		return connect.NewError(connect.CodeAlreadyExists, err)
	case errors.Is(err, ErrSessionNotActive):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, ErrNotMember),
		errors.Is(err, ErrInvalidSession),
		errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrEmptyLabel):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	slog.Error("Ledger request failed", "error", err)
	return connect.NewError(connect.CodeInternal, err)
}
