package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/hitoshi/postboard/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func testSession() *model.Session {
	return &model.Session{Token: "t1", User: &model.User{ID: "u1", Name: "A"}}
}

func TestStore_Save_ThenAcquire_ReturnsToken(t *testing.T) {
	var buf bytes.Buffer
	s := NewStore(NewMemoryPersister(nil), newTestLogger(&buf))

	if err := s.Save(context.Background(), testSession()); err != nil {
		t.Fatalf("Save がエラーを返した: %v", err)
	}

	lease, err := s.Acquire()
	if err != nil {
		t.Fatalf("Acquire がエラーを返した: %v", err)
	}
	defer lease.Release()

	if lease.Token() != "t1" {
		t.Errorf("Token = %q, want %q", lease.Token(), "t1")
	}
	if lease.User().ID != "u1" {
		t.Errorf("User.ID = %q, want %q", lease.User().ID, "u1")
	}
	if !lease.Valid() {
		t.Error("取得直後のLeaseは有効であるべき")
	}
}

func TestStore_Save_RejectsTokenWithoutUser(t *testing.T) {
	var buf bytes.Buffer
	p := NewMemoryPersister(nil)
	s := NewStore(p, newTestLogger(&buf))

	err := s.Save(context.Background(), &model.Session{Token: "t1"})
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("err = %v, want ErrInvalidSession", err)
	}
	if s.LoggedIn() {
		t.Error("不正なセッションでログイン状態になってはならない")
	}
	if got, _ := p.Load(context.Background()); got != nil {
		t.Errorf("不正なセッションが永続化された: %+v", got)
	}
}

func TestStore_Acquire_WithoutSession_ReturnsErrNoSession(t *testing.T) {
	var buf bytes.Buffer
	s := NewStore(NewMemoryPersister(nil), newTestLogger(&buf))

	if _, err := s.Acquire(); !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
}

func TestStore_Teardown_InvalidatesOutstandingLeases(t *testing.T) {
	var buf bytes.Buffer
	p := NewMemoryPersister(nil)
	s := NewStore(p, newTestLogger(&buf))
	ctx := context.Background()

	if err := s.Save(ctx, testSession()); err != nil {
		t.Fatalf("Save がエラーを返した: %v", err)
	}
	lease, err := s.Acquire()
	if err != nil {
		t.Fatalf("Acquire がエラーを返した: %v", err)
	}

	if err := s.Teardown(ctx); err != nil {
		t.Fatalf("Teardown がエラーを返した: %v", err)
	}

	if lease.Valid() {
		t.Error("Teardown後のLeaseは無効であるべき")
	}
	if s.LoggedIn() {
		t.Error("Teardown後はログアウト状態であるべき")
	}
	if got, _ := p.Load(ctx); got != nil {
		t.Errorf("永続化先がクリアされていない: %+v", got)
	}

	lease.Release()
	lease.Release()
	if s.Refs() != 0 {
		t.Errorf("Refs = %d, want 0", s.Refs())
	}
}

func TestStore_ReLogin_InvalidatesLeasesFromPreviousSession(t *testing.T) {
	var buf bytes.Buffer
	s := NewStore(NewMemoryPersister(nil), newTestLogger(&buf))
	ctx := context.Background()

	_ = s.Save(ctx, testSession())
	old, _ := s.Acquire()
	defer old.Release()

	_ = s.Save(ctx, &model.Session{Token: "t2", User: &model.User{ID: "u2"}})

	if old.Valid() {
		t.Error("再ログイン前のLeaseは無効であるべき")
	}
}

func TestStore_Refs_CountsOutstandingLeases(t *testing.T) {
	var buf bytes.Buffer
	s := NewStore(NewMemoryPersister(testSession()), newTestLogger(&buf))
	if err := s.Restore(context.Background()); err != nil {
		t.Fatalf("Restore がエラーを返した: %v", err)
	}

	a, _ := s.Acquire()
	b, _ := s.Acquire()
	if s.Refs() != 2 {
		t.Errorf("Refs = %d, want 2", s.Refs())
	}
	a.Release()
	b.Release()
	if s.Refs() != 0 {
		t.Errorf("Refs = %d, want 0", s.Refs())
	}
}

func TestStore_Subscribe_ReceivesLoginAndLogout(t *testing.T) {
	var buf bytes.Buffer
	s := NewStore(NewMemoryPersister(nil), newTestLogger(&buf))
	ctx := context.Background()

	events, cancel := s.Subscribe()
	defer cancel()

	_ = s.Save(ctx, testSession())
	_ = s.Teardown(ctx)

	want := []Event{EventLogin, EventLogout}
	for _, w := range want {
		select {
		case got := <-events:
			if got != w {
				t.Errorf("event = %v, want %v", got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %v が届かない", w)
		}
	}
}

func TestStore_Subscribe_CancelClosesChannel(t *testing.T) {
	var buf bytes.Buffer
	s := NewStore(NewMemoryPersister(nil), newTestLogger(&buf))

	events, cancel := s.Subscribe()
	cancel()
	cancel()

	if _, ok := <-events; ok {
		t.Error("cancel後のチャネルは閉じているべき")
	}
	_ = s.Save(context.Background(), testSession())
}

func TestStore_Restore_DiscardsSessionWithoutUser(t *testing.T) {
	var buf bytes.Buffer
	s := NewStore(NewMemoryPersister(nil), newTestLogger(&buf))
	s.persister = &rawPersister{session: &model.Session{Token: "t1"}}

	if err := s.Restore(context.Background()); err != nil {
		t.Fatalf("Restore がエラーを返した: %v", err)
	}
	if s.LoggedIn() {
		t.Error("ユーザーのないセッションは復元されてはならない")
	}
}

type rawPersister struct {
	session *model.Session
}

func (p *rawPersister) Load(ctx context.Context) (*model.Session, error) { return p.session, nil }
func (p *rawPersister) Save(ctx context.Context, s *model.Session) error { p.session = s; return nil }
func (p *rawPersister) Clear(ctx context.Context) error                 { p.session = nil; return nil }

func TestFilePersister_RoundTripAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	p := NewFilePersister(path)
	ctx := context.Background()

	got, err := p.Load(ctx)
	if err != nil || got != nil {
		t.Fatalf("未作成ファイルのLoad = (%v, %v), want (nil, nil)", got, err)
	}

	if err := p.Save(ctx, testSession()); err != nil {
		t.Fatalf("Save がエラーを返した: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("セッションファイルが作成されていない: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("パーミッション = %o, want 600", perm)
	}

	got, err = p.Load(ctx)
	if err != nil {
		t.Fatalf("Load がエラーを返した: %v", err)
	}
	if got.Token != "t1" || got.User.ID != "u1" {
		t.Errorf("Load = %+v", got)
	}

	if err := p.Clear(ctx); err != nil {
		t.Fatalf("Clear がエラーを返した: %v", err)
	}
	if err := p.Clear(ctx); err != nil {
		t.Fatalf("2回目のClear がエラーを返した: %v", err)
	}
}

func TestStore_RestoreFromFile_SurvivesNewStore(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "session.json")
	ctx := context.Background()

	first := NewStore(NewFilePersister(path), newTestLogger(&buf))
	if err := first.Save(ctx, testSession()); err != nil {
		t.Fatalf("Save がエラーを返した: %v", err)
	}

	second := NewStore(NewFilePersister(path), newTestLogger(&buf))
	if err := second.Restore(ctx); err != nil {
		t.Fatalf("Restore がエラーを返した: %v", err)
	}
	if u := second.User(); u == nil || u.Name != "A" {
		t.Errorf("User = %+v, want name A", u)
	}
}
