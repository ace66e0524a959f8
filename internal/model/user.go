// Package model はドメインモデルを定義する。
package model

import "time"

// DefaultUserName は名前が未設定のユーザーレコードに代入される表示名。
const DefaultUserName = "Unknown Name"

// Identity はIdPが発行する認証主体を表す。
// このシステムはIdentityを所有せず、認証状態の変化ごとに参照する。
type Identity struct {
	UID             string
	Email           string
	Provider        string // "password", "google" 等
	ProviderSubject string // 外部IdP上のユーザーID（パスワード認証では空）
	PasswordHash    string // bcryptハッシュ（外部IdPでは空）。レスポンスに含めない
	CreatedAt       time.Time
}

// 認証プロバイダ
const (
	ProviderPassword = "password"
	ProviderGoogle   = "google"
)

// Role はユーザーレコードのロールを表す。
type Role string

const (
	// RoleMentee はメンティーとして登録済みであることを示す。
	RoleMentee Role = "mentee"
	// RoleMentor はメンターとして登録済みであることを示す。
	RoleMentor Role = "mentor"
)

// Valid はロールが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	return r == RoleMentee || r == RoleMentor
}

// UserRecord はIdentityに紐づくアプリケーション側の登録レコード。
// uidごとに高々1件のみ存在する（user_recordsテーブルの主キー）。
type UserRecord struct {
	UID       string
	Name      string
	Email     string
	Role      Role
	CreatedAt time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UID       string
	ExpiresAt time.Time
	CreatedAt time.Time
}
