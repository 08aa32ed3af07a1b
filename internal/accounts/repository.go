package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrUserNotFound は承認済みユーザーが見つからない場合に返されます。
var ErrUserNotFound = errors.New("approved user not found")

const (
	queryApprovedUserByEmail = `SELECT id, name, email, password_hash, profile, default_store_id, approval_status
FROM users
WHERE lower(email) = lower($1) AND approval_status = $2
LIMIT 1`

	queryGrantedStores = `SELECT s.id, s.name
FROM user_store_grants g
JOIN stores s ON s.id = g.store_id
WHERE g.user_id = $1
ORDER BY s.name, s.id`
)

// Repository は users / stores / user_store_grants への読み取りを提供します。
type Repository struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRepository は Repository を作成します。timeout は各呼び出しに適用されます。
func NewRepository(db *sqlx.DB, timeout time.Duration) *Repository {
	return &Repository{
		db:      db,
		timeout: timeout,
	}
}

// LoadAccess はユーザー行と付与店舗を1つの読み取り専用トランザクションで取得します。
// REPEATABLE READ で両方のクエリが同じスナップショットを読みます。
// 初期店舗の決定はこの結果だけを使います。
func (r *Repository) LoadAccess(ctx context.Context, email string) (*Access, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, withDeadline(ctx, fmt.Errorf("begin access tx: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck

	user, err := findApprovedByEmail(ctx, tx, email)
	if err != nil {
		return nil, withDeadline(ctx, err)
	}
	stores, err := grantedStores(ctx, tx, user.ID)
	if err != nil {
		return nil, withDeadline(ctx, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, withDeadline(ctx, fmt.Errorf("commit access tx: %w", err))
	}
	return &Access{User: user, Stores: stores}, nil
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// ドライバーはキャンセル時に独自のエラーを返すため、期限切れなら ctx のエラーも連結する
func withDeadline(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}

func findApprovedByEmail(ctx context.Context, q sqlx.QueryerContext, email string) (*User, error) {
	var user User
	if err := sqlx.GetContext(ctx, q, &user, queryApprovedUserByEmail, email, StatusApproved); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

func grantedStores(ctx context.Context, q sqlx.QueryerContext, userID int64) ([]Store, error) {
	stores := []Store{}
	if err := sqlx.SelectContext(ctx, q, &stores, queryGrantedStores, userID); err != nil {
		return nil, fmt.Errorf("query granted stores: %w", err)
	}
	return stores, nil
}
