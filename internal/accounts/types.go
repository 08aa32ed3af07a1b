// Package accounts はユーザー・店舗・店舗アクセス権限のデータモデルと
// リレーショナルストアへのアクセスを提供します。
package accounts

import "database/sql"

// StatusApproved は承認済みユーザーの approval_status 値です。
const StatusApproved = "approved"

// User は users テーブルの1行を表します。
type User struct {
	ID             int64         `db:"id"`
	Name           string        `db:"name"`
	Email          string        `db:"email"`
	PasswordHash   string        `db:"password_hash"`
	Profile        string        `db:"profile"`
	DefaultStoreID sql.NullInt64 `db:"default_store_id"`
	ApprovalStatus string        `db:"approval_status"`
}

// Store は店舗の参照データです。
type Store struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Access はログイン時に1回の読み取りで取得するユーザーと付与店舗の組です。
type Access struct {
	User   *User
	Stores []Store // 店舗名の昇順
}
