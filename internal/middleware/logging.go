package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// RequestIDHeader はリクエストIDを受け渡すヘッダー名。
const RequestIDHeader = "X-Request-ID"

var requestInfoContextKey = contextKey("request_info")

// requestInfo はアクセスログに載せる値の入れ物。
// 内側のミドルウェアが判明した情報（ユーザーIDなど）を書き込む。
type requestInfo struct {
	requestID string
	userID    string
}

// annotateUser はアクセスログにユーザーIDを記録させる。
// SessionMiddlewareがLoggingMiddlewareの内側にあっても反映される。
func annotateUser(ctx context.Context, userID string) {
	if info, ok := ctx.Value(requestInfoContextKey).(*requestInfo); ok {
		info.userID = userID
	}
}

// RequestIDFromContext はLoggingMiddlewareが割り当てたリクエストIDを返す。
func RequestIDFromContext(ctx context.Context) string {
	if info, ok := ctx.Value(requestInfoContextKey).(*requestInfo); ok {
		return info.requestID
	}
	return ""
}

// requestIDFrom は受信したX-Request-IDがUUIDならそれを引き継ぎ、そうでなければ新規に採番する。
func requestIDFrom(r *http.Request) string {
	if v := r.Header.Get(RequestIDHeader); v != "" {
		if id, err := uuid.Parse(v); err == nil {
			return id.String()
		}
	}
	return uuid.NewString()
}

// responseRecorder はステータスコードと書き込みバイト数を記録する。
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rr *responseRecorder) WriteHeader(code int) {
	if rr.status == 0 {
		rr.status = code
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	n, err := rr.ResponseWriter.Write(b)
	rr.bytes += n
	return n, err
}

func (rr *responseRecorder) statusCode() int {
	if rr.status == 0 {
		return http.StatusOK
	}
	return rr.status
}

// levelForStatus は5xxをError、4xxをWarn、それ以外をInfoにする。
func levelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// NewLoggingMiddleware はリクエストごとに1行のJSON構造化アクセスログを出力するミドルウェアを返す。
// 出力はrequest_id、method、path、route、status、bytes、duration_ms、user_id（ログイン済みの場合）。
// リクエストIDはレスポンスのX-Request-IDヘッダーでも返す。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			info := &requestInfo{requestID: requestIDFrom(r)}
			w.Header().Set(RequestIDHeader, info.requestID)
			r = r.WithContext(context.WithValue(r.Context(), requestInfoContextKey, info))

			rec := &responseRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.statusCode()
			attrs := []slog.Attr{
				slog.String("request_id", info.requestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", rec.bytes),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				attrs = append(attrs, slog.String("route", rctx.RoutePattern()))
			}

			userID := info.userID
			if userID == "" {
				userID, _ = UserIDFromContext(r.Context())
			}
			if userID != "" {
				attrs = append(attrs, slog.String("user_id", userID))
			}

			logger.LogAttrs(r.Context(), levelForStatus(status), "http_request", attrs...)
		})
	}
}
