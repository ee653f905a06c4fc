package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/postboard/internal/model"
)

// ErrWebSessionNotFound は更新対象のWebセッションが存在しない場合のエラー。
var ErrWebSessionNotFound = errors.New("web session not found")

// PostgresWebSessionRepo はPostgreSQLを使用したWebセッションリポジトリ。
type PostgresWebSessionRepo struct {
	db *sql.DB
}

// NewPostgresWebSessionRepo はPostgresWebSessionRepoを生成する。
func NewPostgresWebSessionRepo(db *sql.DB) *PostgresWebSessionRepo {
	return &PostgresWebSessionRepo{db: db}
}

// Create はWebセッションを作成する。
func (r *PostgresWebSessionRepo) Create(ctx context.Context, ws *model.WebSession) error {
	userJSON, err := encodeUser(ws.User)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO web_sessions (id, token, user_json, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ws.ID, ws.Token, userJSON, ws.ExpiresAt, ws.CreatedAt, ws.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create web session: %w", err)
	}
	return nil
}

// FindByID は指定IDのWebセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresWebSessionRepo) FindByID(ctx context.Context, id string) (*model.WebSession, error) {
	ws := &model.WebSession{}
	var userJSON []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT id, token, user_json, expires_at, created_at, updated_at
		 FROM web_sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&ws.ID, &ws.Token, &userJSON, &ws.ExpiresAt, &ws.CreatedAt, &ws.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find web session: %w", err)
	}

	if len(userJSON) > 0 {
		var u model.User
		if err := json.Unmarshal(userJSON, &u); err != nil {
			return nil, fmt.Errorf("failed to decode cached user: %w", err)
		}
		ws.User = &u
	}
	// トークンだけ残った行はログインしていないものとして扱う
	if ws.User == nil {
		ws.Token = ""
	}
	return ws, nil
}

// SaveLogin はトークンとユーザーを同一行に書き込む。
func (r *PostgresWebSessionRepo) SaveLogin(ctx context.Context, id, token string, user *model.User) error {
	if token == "" || user == nil {
		return fmt.Errorf("failed to save login: token and user are required")
	}
	userJSON, err := encodeUser(user)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE web_sessions SET token = $2, user_json = $3, updated_at = now() WHERE id = $1`,
		id, token, userJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save login: %w", err)
	}
	return requireRow(res)
}

// ClearLogin はトークンとユーザーを消去する。行自体は残す。
func (r *PostgresWebSessionRepo) ClearLogin(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE web_sessions SET token = '', user_json = NULL, updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to clear login: %w", err)
	}
	return nil
}

// Touch は有効期限を延長する。
func (r *PostgresWebSessionRepo) Touch(ctx context.Context, id string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE web_sessions SET expires_at = $2, updated_at = now() WHERE id = $1`,
		id, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to touch web session: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのWebセッションを削除する。
func (r *PostgresWebSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM web_sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete web session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのWebセッションを削除する。
func (r *PostgresWebSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM web_sessions WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired web sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted web sessions: %w", err)
	}
	return n, nil
}

// encodeUser はuser_json列の値を返す。未ログインの場合はNULL。
func encodeUser(u *model.User) (any, error) {
	if u == nil {
		return nil, nil
	}
	b, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cached user: %w", err)
	}
	return string(b), nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count updated rows: %w", err)
	}
	if n == 0 {
		return ErrWebSessionNotFound
	}
	return nil
}

// compile-time interface check
var _ WebSessionRepository = (*PostgresWebSessionRepo)(nil)
