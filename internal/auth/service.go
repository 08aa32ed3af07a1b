// Package auth は認証・セッション・店舗単位のアクセス制御を提供します。
package auth

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/planograma/internal/accounts"
	"github.com/yourusername/planograma/internal/metrics"
	"github.com/yourusername/planograma/internal/session"
)

// AccessLoader はユーザーと付与店舗を1回の読み取りで返します。
type AccessLoader interface {
	LoadAccess(ctx context.Context, email string) (*accounts.Access, error)
}

// SessionStore はサーバー側セッションの保存先です。
type SessionStore interface {
	Create(ctx context.Context, record *session.Record) error
	Get(ctx context.Context, token string) (*session.Record, error)
	Update(ctx context.Context, token string, mutate func(*session.Record)) (*session.Record, error)
	Delete(ctx context.Context, token string) error
}

// Service は認証とセッションの状態遷移を担います。
//
//	Anonymous -> Authenticated (Authenticate)
//	Authenticated -> Authenticated (SwitchActiveStore)
//	Authenticated -> Destroyed (DestroySession)
type Service struct {
	accounts AccessLoader
	sessions SessionStore
	logger   logrus.FieldLogger

	// 保存済みハッシュのコスト。ダミー比較をこれに合わせる
	hashCost atomic.Int32

	dummyMu     sync.Mutex
	dummyHashes map[int][]byte
}

// NewService は Service を作成します。
func NewService(loader AccessLoader, sessions SessionStore, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		accounts: loader,
		sessions: sessions,
		logger:   logger,
	}
}

func (s *Service) dummyCost() int {
	if cost := int(s.hashCost.Load()); cost > 0 {
		return cost
	}
	return bcrypt.DefaultCost
}

func (s *Service) observeHashCost(hash []byte) {
	if cost, err := bcrypt.Cost(hash); err == nil {
		s.hashCost.Store(int32(cost))
	}
}

// ユーザーが存在しない場合も同じコストで bcrypt 比較を1回行い、応答時間の差を小さくする
func (s *Service) compareDummyHash(password string) {
	cost := s.dummyCost()

	s.dummyMu.Lock()
	hash, ok := s.dummyHashes[cost]
	if !ok {
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte("planograma-dummy-password"), cost)
		if err != nil {
			s.dummyMu.Unlock()
			return
		}
		if s.dummyHashes == nil {
			s.dummyHashes = make(map[int][]byte)
		}
		s.dummyHashes[cost] = hash
	}
	s.dummyMu.Unlock()

	_ = bcrypt.CompareHashAndPassword(hash, []byte(password))
}

// Authenticate は資格情報を検証し、新しいセッションを作成します。
// 未登録・未承認・パスワード不一致はすべて ErrInvalidCredentials になり、
// 区別はサーバーログの reason にだけ残します。
func (s *Service) Authenticate(ctx context.Context, email, password string) (*session.Record, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrValidation
	}
	log := s.logger.WithField("email", email)

	access, err := s.accounts.LoadAccess(ctx, email)
	if err != nil {
		if errors.Is(err, accounts.ErrUserNotFound) {
			s.compareDummyHash(password)
			log.WithField("reason", "not_found_or_not_approved").Info("login rejected")
			return nil, ErrInvalidCredentials
		}
		log.WithError(err).Error("account lookup failed")
		return nil, wrapError(ErrStoreLookupFailed, err)
	}

	user := access.User
	s.observeHashCost([]byte(user.PasswordHash))
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		reason := "bad_password"
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			reason = "unusable_hash"
		}
		log.WithFields(logrus.Fields{"reason": reason, "user_id": user.ID}).Info("login rejected")
		return nil, ErrInvalidCredentials
	}

	stores := sortedStoreRefs(access.Stores)
	record := &session.Record{
		UserID:        user.ID,
		Name:          user.Name,
		Email:         user.Email,
		Profile:       user.Profile,
		Stores:        stores,
		ActiveStoreID: initialActiveStore(user, stores),
	}
	if err := s.sessions.Create(ctx, record); err != nil {
		log.WithError(err).Error("session create failed")
		return nil, wrapError(ErrSessionUnavailable, err)
	}

	log.WithFields(logrus.Fields{"user_id": user.ID, "stores": len(stores)}).Info("login succeeded")
	return record, nil
}

// SwitchActiveStore は付与店舗に含まれる場合だけ選択中の店舗を変更します。
// 含まれない場合は何もしません（存在する店舗を推測させないためエラーも返しません）。
func (s *Service) SwitchActiveStore(ctx context.Context, token string, storeID int64) (*session.Record, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	applied := false
	record, err := s.sessions.Update(ctx, token, func(r *session.Record) {
		if r.HasStore(storeID) {
			id := storeID
			r.ActiveStoreID = &id
			applied = true
		}
	})
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, wrapError(ErrSessionUnavailable, err)
	}
	metrics.RecordStoreSwitch(applied)
	if !applied {
		s.logger.WithFields(logrus.Fields{"user_id": record.UserID, "store_id": storeID}).Warn("store switch ignored: store not granted")
	}
	return record, nil
}

// RequireSession はトークンに対応する有効なセッションを返します。
func (s *Service) RequireSession(ctx context.Context, token string) (*session.Record, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	record, err := s.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, wrapError(ErrUnauthenticated, err)
	}
	return record, nil
}

// DestroySession はセッションを無効化します。存在しなくてもエラーにしません。
func (s *Service) DestroySession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, token); err != nil {
		return wrapError(ErrSessionUnavailable, err)
	}
	return nil
}

func sortedStoreRefs(stores []accounts.Store) []session.StoreRef {
	refs := make([]session.StoreRef, 0, len(stores))
	for _, st := range stores {
		refs = append(refs, session.StoreRef{ID: st.ID, Name: st.Name})
	}
	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].Name != refs[j].Name {
			return refs[i].Name < refs[j].Name
		}
		return refs[i].ID < refs[j].ID
	})
	return refs
}

// 既定店舗が付与店舗に含まれればそれを、なければ先頭の店舗を選ぶ。付与がなければ nil。
func initialActiveStore(user *accounts.User, stores []session.StoreRef) *int64 {
	if user.DefaultStoreID.Valid {
		for _, st := range stores {
			if st.ID == user.DefaultStoreID.Int64 {
				id := st.ID
				return &id
			}
		}
	}
	if len(stores) == 0 {
		return nil
	}
	id := stores[0].ID
	return &id
}
