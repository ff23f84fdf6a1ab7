package service

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// LedgerClient calls a LedgerService over Connect with the JSON codec.
type LedgerClient struct {
	startSession     *connect.Client[StartSessionRequest, SessionResponse]
	joinSession      *connect.Client[JoinSessionRequest, JoinSessionResponse]
	addPayment       *connect.Client[AddPaymentRequest, PaymentResponse]
	cancelPayment    *connect.Client[GroupRequest, PaymentResponse]
	settle           *connect.Client[GroupRequest, ReportResponse]
	endSession       *connect.Client[GroupRequest, EndSessionResponse]
	getSession       *connect.Client[GroupRequest, SessionResponse]
	getBalances      *connect.Client[GroupRequest, ReportResponse]
	listUserSessions *connect.Client[ListUserSessionsRequest, ListUserSessionsResponse]
	getUserStats     *connect.Client[GetUserStatsRequest, GetUserStatsResponse]
}

// NewLedgerClient creates a client for the ledger service at baseURL.
func NewLedgerClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *LedgerClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)

	return &LedgerClient{
		startSession: connect.NewClient[StartSessionRequest, SessionResponse](
			httpClient, baseURL+LedgerServiceStartSessionProcedure, opts...),
		joinSession: connect.NewClient[JoinSessionRequest, JoinSessionResponse](
			httpClient, baseURL+LedgerServiceJoinSessionProcedure, opts...),
		addPayment: connect.NewClient[AddPaymentRequest, PaymentResponse](
			httpClient, baseURL+LedgerServiceAddPaymentProcedure, opts...),
		cancelPayment: connect.NewClient[GroupRequest, PaymentResponse](
			httpClient, baseURL+LedgerServiceCancelPaymentProcedure, opts...),
		settle: connect.NewClient[GroupRequest, ReportResponse](
			httpClient, baseURL+LedgerServiceSettleProcedure, opts...),
		endSession: connect.NewClient[GroupRequest, EndSessionResponse](
			httpClient, baseURL+LedgerServiceEndSessionProcedure, opts...),
		getSession: connect.NewClient[GroupRequest, SessionResponse](
			httpClient, baseURL+LedgerServiceGetSessionProcedure, opts...),
		getBalances: connect.NewClient[GroupRequest, ReportResponse](
			httpClient, baseURL+LedgerServiceGetBalancesProcedure, opts...),
		listUserSessions: connect.NewClient[ListUserSessionsRequest, ListUserSessionsResponse](
			httpClient, baseURL+LedgerServiceListUserSessionsProcedure, opts...),
		getUserStats: connect.NewClient[GetUserStatsRequest, GetUserStatsResponse](
			httpClient, baseURL+LedgerServiceGetUserStatsProcedure, opts...),
	}
}

func (c *LedgerClient) StartSession(ctx context.Context, req *StartSessionRequest) (*SessionResponse, error) {
	return call(ctx, c.startSession, req)
}

func (c *LedgerClient) JoinSession(ctx context.Context, req *JoinSessionRequest) (*JoinSessionResponse, error) {
	return call(ctx, c.joinSession, req)
}

func (c *LedgerClient) AddPayment(ctx context.Context, req *AddPaymentRequest) (*PaymentResponse, error) {
	return call(ctx, c.addPayment, req)
}

func (c *LedgerClient) CancelPayment(ctx context.Context, req *GroupRequest) (*PaymentResponse, error) {
	return call(ctx, c.cancelPayment, req)
}

func (c *LedgerClient) Settle(ctx context.Context, req *GroupRequest) (*ReportResponse, error) {
	return call(ctx, c.settle, req)
}

func (c *LedgerClient) EndSession(ctx context.Context, req *GroupRequest) (*EndSessionResponse, error) {
	return call(ctx, c.endSession, req)
}

func (c *LedgerClient) GetSession(ctx context.Context, req *GroupRequest) (*SessionResponse, error) {
	return call(ctx, c.getSession, req)
}

func (c *LedgerClient) GetBalances(ctx context.Context, req *GroupRequest) (*ReportResponse, error) {
	return call(ctx, c.getBalances, req)
}

func (c *LedgerClient) ListUserSessions(ctx context.Context, req *ListUserSessionsRequest) (*ListUserSessionsResponse, error) {
	return call(ctx, c.listUserSessions, req)
}

func (c *LedgerClient) GetUserStats(ctx context.Context, req *GetUserStatsRequest) (*GetUserStatsResponse, error) {
	return call(ctx, c.getUserStats, req)
}

func call[Req, Res any](ctx context.Context, client *connect.Client[Req, Res], req *Req) (*Res, error) {
	resp, err := client.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
