// Package session はサーバー側で保持するログインセッションを Redis に保存します。
// クライアントには不透明なトークンだけを渡します。
package session

import "time"

// StoreRef はセッションに保持する店舗のスナップショットです。
type StoreRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Record はログイン時点のユーザー情報と選択中の店舗を表します。
type Record struct {
	Token         string     `json:"-"`
	UserID        int64      `json:"userId"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	Profile       string     `json:"profile"`
	Stores        []StoreRef `json:"stores"`
	ActiveStoreID *int64     `json:"activeStoreId"`
	IssuedAt      time.Time  `json:"issuedAt"`
	ExpiresAt     time.Time  `json:"expiresAt"`
}

// HasStore は id が付与店舗に含まれるかを返します。
func (r *Record) HasStore(id int64) bool {
	for _, s := range r.Stores {
		if s.ID == id {
			return true
		}
	}
	return false
}

// ActiveStore は選択中の店舗を返します。未選択なら false です。
func (r *Record) ActiveStore() (StoreRef, bool) {
	if r.ActiveStoreID == nil {
		return StoreRef{}, false
	}
	for _, s := range r.Stores {
		if s.ID == *r.ActiveStoreID {
			return s, true
		}
	}
	return StoreRef{}, false
}
