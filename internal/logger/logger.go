package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// redactedValue は秘匿属性の置換値。
const redactedValue = "[REDACTED]"

// sensitiveKeys はログに値を出してはならない属性キー（小文字で比較）。
var sensitiveKeys = map[string]struct{}{
	"token":         {},
	"password":      {},
	"authorization": {},
	"cookie":        {},
	"csrf_token":    {},
	"session_id":    {},
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// levelより低いレベルのログは出力せず、トークンやパスワードなどの属性値は伏せ字にする。
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定し、そのロガーを返す。
// writerがnilの場合はos.Stdoutに出力する。
// CLIでは標準出力をコマンドの結果に使うため、os.Stderrを渡す。
func SetupDefault(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w, level)
	slog.SetDefault(logger)
	return logger
}

func redact(groups []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, redactedValue)
	}
	return a
}
