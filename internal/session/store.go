package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "sess:"
	tokenBytes       = 32
	maxUpdateRetries = 8
)

// ErrNotFound はトークンに対応するセッションが存在しない（期限切れ・破棄済みを含む）場合に返されます。
var ErrNotFound = errors.New("session not found")

// Store はセッションを Redis に保存します。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore は Store を作成します。ttl は発行時点からの固定の有効期間です。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
	}
}

// Create は新しいトークンを発行してセッションを保存します。
func (s *Store) Create(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	now := time.Now().UTC()
	record.IssuedAt = now
	record.ExpiresAt = now.Add(s.ttl)

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		token, err := generateToken()
		if err != nil {
			return fmt.Errorf("generate session token: %w", err)
		}
		ok, err := s.rdb.SetNX(ctx, sessionKey(token), payload, s.ttl).Result()
		if err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		if ok {
			record.Token = token
			return nil
		}
	}
	return fmt.Errorf("save session: token collision")
}

// Get はセッションを取得します。
func (s *Store) Get(ctx context.Context, token string) (*Record, error) {
	if !validToken(token) {
		return nil, ErrNotFound
	}
	data, err := s.rdb.Get(ctx, sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	record, err := decode(token, data)
	if err != nil {
		return nil, err
	}
	if !time.Now().Before(record.ExpiresAt) {
		return nil, ErrNotFound
	}
	return record, nil
}

// Update はセッションを読み出して mutate を適用し、残り有効期間のまま書き戻します。
// 同一セッションへの同時更新は後勝ちです。
func (s *Store) Update(ctx context.Context, token string, mutate func(*Record)) (*Record, error) {
	if !validToken(token) {
		return nil, ErrNotFound
	}
	key := sessionKey(token)

	var updated *Record
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}
		record, err := decode(token, data)
		if err != nil {
			return err
		}
		remaining := time.Until(record.ExpiresAt)
		if remaining <= 0 {
			return ErrNotFound
		}

		mutate(record)
		payload, err := json.Marshal(record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, remaining)
			return nil
		})
		if err == nil {
			updated = record
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("update session: too much contention")
}

// Delete はセッションを削除します。存在しない場合もエラーにしません。
func (s *Store) Delete(ctx context.Context, token string) error {
	if !validToken(token) {
		return nil
	}
	return s.rdb.Del(ctx, sessionKey(token)).Err()
}

func decode(token string, data []byte) (*Record, error) {
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	record.Token = token
	return &record, nil
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func validToken(token string) bool {
	if len(token) != tokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

func sessionKey(token string) string {
	return sessionKeyPrefix + token
}
