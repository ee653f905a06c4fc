package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/hitoshi/postboard/internal/metrics"
	"github.com/hitoshi/postboard/internal/model"
)

// headerTracker はレスポンスヘッダーが送信済みかを記録する。
type headerTracker struct {
	http.ResponseWriter
	wroteHeader bool
}

func (h *headerTracker) WriteHeader(code int) {
	h.wroteHeader = true
	h.ResponseWriter.WriteHeader(code)
}

func (h *headerTracker) Write(b []byte) (int, error) {
	h.wroteHeader = true
	return h.ResponseWriter.Write(b)
}

// NewRecoveryMiddleware はpanic発生時にプロセスクラッシュを防ぎ、
// 500レスポンスを返すミドルウェアを生成する。
// ヘッダー送信後のpanicではレスポンスを書き換えず、ログとメトリクスのみ記録する。
// http.ErrAbortHandlerはnet/httpの規約どおり再panicする。
func NewRecoveryMiddleware(logger *slog.Logger, rec metrics.Recorder) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	rec = metrics.OrNop(rec)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tw := &headerTracker{ResponseWriter: w}
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}

				logger.Error("panic recovered",
					slog.Any("panic", v),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				rec.RecordFailure("http_panic", model.CategoryServer)

				if !tw.wroteHeader {
					WriteInternalServerError(w)
				}
			}()
			next.ServeHTTP(tw, r)
		})
	}
}
