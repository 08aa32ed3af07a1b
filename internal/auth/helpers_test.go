package auth

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/planograma/internal/accounts"
	"github.com/yourusername/planograma/internal/session"
)

const testPassword = "senha-correta"

// fakeLoader は approval_status の絞り込みを含めてリポジトリを模倣します。
type fakeLoader struct {
	mu    sync.Mutex
	users map[string]*accounts.Access
	err   error
	calls int
}

func (f *fakeLoader) LoadAccess(_ context.Context, email string) (*accounts.Access, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	access, ok := f.users[email]
	if !ok || access.User.ApprovalStatus != accounts.StatusApproved {
		return nil, accounts.ErrUserNotFound
	}
	user := *access.User
	stores := append([]accounts.Store(nil), access.Stores...)
	return &accounts.Access{User: &user, Stores: stores}, nil
}

func (f *fakeLoader) add(t *testing.T, id int64, email, status string, defaultStore int64, stores ...accounts.Store) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	user := &accounts.User{
		ID:             id,
		Name:           "Usuário " + email,
		Email:          email,
		PasswordHash:   string(hash),
		Profile:        "operador",
		ApprovalStatus: status,
	}
	if defaultStore != 0 {
		user.DefaultStoreID = sql.NullInt64{Int64: defaultStore, Valid: true}
	}
	if f.users == nil {
		f.users = map[string]*accounts.Access{}
	}
	f.users[email] = &accounts.Access{User: user, Stores: stores}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func newTestLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

type testEnv struct {
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	loader   *fakeLoader
	sessions *session.Store
	service  *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr, rdb := newTestRedis(t)
	loader := &fakeLoader{}
	sessions := session.NewStore(rdb, 8*time.Hour)
	return &testEnv{
		mr:       mr,
		rdb:      rdb,
		loader:   loader,
		sessions: sessions,
		service:  NewService(loader, sessions, newTestLogger()),
	}
}

// sessionKeys はRedis上のセッションキーを返します。
func (e *testEnv) sessionKeys() []string {
	var keys []string
	for _, k := range e.mr.Keys() {
		if len(k) > 5 && k[:5] == "sess:" {
			keys = append(keys, k)
		}
	}
	return keys
}
