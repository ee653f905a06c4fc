// Package controller は各画面（Login, SignUp, Feed, Profile）の送信ライフサイクルを駆動する。
//
// 各コントローラは入力検証・APIゲートウェイ・リスト差分適用を組み合わせ、
// Idle → Validating → Submitting → Settled → Idle の状態遷移を共有する。
// 1つのフォームで同時に送信中にできる要求は1つだけで、送信中の再送信は無視する。
package controller

import (
	"sync"

	"github.com/hitoshi/postboard/internal/model"
)

// State はフォームのライフサイクル状態。
type State int

const (
	StateIdle State = iota
	StateValidating
	StateSubmitting
	StateSettledSuccess
	StateSettledFailure
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateSubmitting:
		return "submitting"
	case StateSettledSuccess:
		return "settled_success"
	case StateSettledFailure:
		return "settled_failure"
	default:
		return "unknown"
	}
}

// 画面のルート。
const (
	RouteLogin   = "/"
	RouteSignUp  = "/signup"
	RouteHome    = "/home"
	RouteProfile = "/profile"
)

// Status は1回の操作の結果種別。
type Status int

const (
	// StatusIgnored は送信中などの理由で操作を受け付けなかったことを示す。
	StatusIgnored Status = iota
	// StatusInvalid は入力検証で拒否され、リクエストを送らなかったことを示す。
	StatusInvalid
	StatusSucceeded
	StatusFailed
	// StatusDropped はコントローラ破棄後に応答が届き、状態を変更せずに捨てたことを示す。
	StatusDropped
)

func (s Status) String() string {
	switch s {
	case StatusIgnored:
		return "ignored"
	case StatusInvalid:
		return "invalid"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Result は操作の結果。Redirectが空でなければ呼び出し側が画面遷移する。
type Result struct {
	Status   Status
	Err      *model.APIError
	Redirect string
}

// OK は操作が成功したかを返す。
func (r Result) OK() bool {
	return r.Status == StatusSucceeded
}

// Lifecycle はフォーム1つ分の送信状態を管理する。
type Lifecycle struct {
	mu           sync.Mutex
	state        State
	closed       bool
	onTransition func(from, to State)
}

// NewLifecycle はIdle状態のLifecycleを生成する。
// onTransitionは状態遷移ごとに呼ばれる（nil可）。ロック保持中に呼ばれるため、
// Lifecycleのメソッドを呼んではならない。
func NewLifecycle(onTransition func(from, to State)) *Lifecycle {
	return &Lifecycle{onTransition: onTransition}
}

// State は現在の状態を返す。
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Busy は送信中かを返す。
func (l *Lifecycle) Busy() bool {
	return l.State() == StateSubmitting
}

// Closed は破棄済みかを返す。
func (l *Lifecycle) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close はコントローラの破棄を記録する。以降に完了した応答は捨てられる。
func (l *Lifecycle) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

func (l *Lifecycle) transition(to State) {
	from := l.state
	l.state = to
	if l.onTransition != nil {
		l.onTransition(from, to)
	}
}

// begin はIdleからValidatingへ遷移する。送信中または破棄済みならfalse。
func (l *Lifecycle) begin() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.state != StateIdle {
		return false
	}
	l.transition(StateValidating)
	return true
}

// reject は検証失敗でIdleへ戻す。
func (l *Lifecycle) reject() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transition(StateIdle)
}

// submit は検証成功でSubmittingへ遷移する。
func (l *Lifecycle) submit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transition(StateSubmitting)
}

// settle は応答の到着を記録し、Settledを経てIdleへ戻す。
// 破棄済みであればfalseを返し、呼び出し側は状態を変更してはならない。
// apply はロック保持中に呼ばれ、破棄との競合なく状態を反映できる。
func (l *Lifecycle) settle(success bool, apply func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if success {
		l.transition(StateSettledSuccess)
	} else {
		l.transition(StateSettledFailure)
	}
	alive := !l.closed
	if alive && apply != nil {
		apply()
	}
	l.transition(StateIdle)
	return alive
}

// gate は同じキーの操作が同時に1つだけ実行されるようにする（投稿ごとのいいねなど）。
type gate struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func (g *gate) enter(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight == nil {
		g.inFlight = make(map[string]struct{})
	}
	if _, busy := g.inFlight[key]; busy {
		return false
	}
	g.inFlight[key] = struct{}{}
	return true
}

func (g *gate) leave(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, key)
}

func (g *gate) busy(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inFlight[key]
	return ok
}
