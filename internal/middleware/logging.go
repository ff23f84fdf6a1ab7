package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"connectrpc.com/connect"
)

// LoggingInterceptor logs one line per RPC with its procedure, request ID and
// duration. Install it after RequestID so the ID is available. A nil logger
// uses slog.Default.
func LoggingInterceptor(logger *slog.Logger) connect.UnaryInterceptorFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			attrs := []slog.Attr{
				slog.String("procedure", req.Spec().Procedure),
				slog.String("request_id", GetRequestID(ctx)),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			}
			if err == nil {
				logger.LogAttrs(ctx, slog.LevelInfo, "RPC ok", attrs...)
				return resp, nil
			}

			code := connect.CodeOf(err)
			attrs = append(attrs, slog.String("code", code.String()))
			var connectErr *connect.Error
			if errors.As(err, &connectErr) {
				attrs = append(attrs, slog.String("error", connectErr.Message()))
			} else {
				attrs = append(attrs, slog.String("error", err.Error()))
			}
			level := levelFor(code)
			if level == slog.LevelError {
				attrs = append(attrs, slog.String("peer", req.Peer().Addr))
			}
			logger.LogAttrs(ctx, level, "RPC error", attrs...)
			return resp, err
		}
	}
}

// levelFor maps caller mistakes to Warn and server faults to Error.
func levelFor(code connect.Code) slog.Level {
	switch code {
	case connect.CodeNotFound,
		connect.CodeInvalidArgument,
		connect.CodeAlreadyExists,
		connect.CodeFailedPrecondition,
		connect.CodeCanceled,
		connect.CodeDeadlineExceeded:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
