package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/hitoshi/postboard/internal/model"
)

// FilePersister はセッションをJSONファイルに保存する。CLI用。
// ファイルはユーザーのみ読み書き可能（0600）で作成する。
type FilePersister struct {
	path string
}

// NewFilePersister はFilePersisterを生成する。
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Load はファイルからセッションを読み込む。ファイルがなければnilを返す。
func (p *FilePersister) Load(ctx context.Context) (*model.Session, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var s model.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	if s.Token == "" {
		return nil, nil
	}
	return &s, nil
}

// Save は一時ファイルに書き込んでからリネームする。
func (p *FilePersister) Save(ctx context.Context, s *model.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Clear はセッションファイルを削除する。存在しなくてもエラーにしない。
func (p *FilePersister) Clear(ctx context.Context) error {
	if err := os.Remove(p.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// MemoryPersister はプロセス内にのみ保持する。テストや一時的な利用向け。
type MemoryPersister struct {
	mu      sync.Mutex
	session *model.Session
}

// NewMemoryPersister はMemoryPersisterを生成する。
func NewMemoryPersister(initial *model.Session) *MemoryPersister {
	return &MemoryPersister{session: cloneSession(initial)}
}

func (p *MemoryPersister) Load(ctx context.Context) (*model.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneSession(p.session), nil
}

func (p *MemoryPersister) Save(ctx context.Context, s *model.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = cloneSession(s)
	return nil
}

func (p *MemoryPersister) Clear(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = nil
	return nil
}
