package controller

import (
	"context"
	"log/slog"
	"sync"
)

// NoticeLevel は通知の種類。
type NoticeLevel string

const (
	NoticeLoading NoticeLevel = "loading"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice はユーザーに表示する一時的な通知（トースト）。
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// Notifier は通知の表示先。CLIは標準エラー、BFFはレスポンスに含める。
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc は関数をNotifierとして使うためのアダプタ。
type NotifierFunc func(n Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type nopNotifier struct{}

func (nopNotifier) Notify(Notice) {}

// LogNotifier は通知を構造化ログとして出力する。
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(n Notice) {
	level := slog.LevelInfo
	if n.Level == NoticeError {
		level = slog.LevelWarn
	}
	l.Logger.Log(context.Background(), level, "notice",
		slog.String("level", string(n.Level)),
		slog.String("message", n.Message),
	)
}

// NoticeRecorder は通知を記録する。BFFのビュー単位で最後の通知を返すために使う。
type NoticeRecorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *NoticeRecorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Drain は記録済みの通知を返して消去する。
func (r *NoticeRecorder) Drain() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.notices
	r.notices = nil
	return out
}

// Multi は複数のNotifierへ通知を配る。
func Multi(notifiers ...Notifier) Notifier {
	return NotifierFunc(func(n Notice) {
		for _, x := range notifiers {
			if x != nil {
				x.Notify(n)
			}
		}
	})
}
