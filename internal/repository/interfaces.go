// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/mentorbook/internal/model"
)

// 永続化層のセンチネルエラー
var (
	// ErrRecordExists はuidに対するユーザーレコードが既に存在することを示す。
	ErrRecordExists = errors.New("user record already exists")
	// ErrIdentityExists はメールアドレスまたは外部IdPのユーザーIDが登録済みであることを示す。
	ErrIdentityExists = errors.New("identity already exists")
)

// IdentityRepository は認証主体の永続化インターフェース。
type IdentityRepository interface {
	// Create はidentityを作成する。メールアドレスが重複する場合はErrIdentityExistsを返す。
	Create(ctx context.Context, identity *model.Identity) error
	// FindByUID は指定uidのidentityを取得する。見つからない場合はnilを返す。
	FindByUID(ctx context.Context, uid string) (*model.Identity, error)
	// FindByEmail はメールアドレスでidentityを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Identity, error)
	// FindByProviderSubject はproviderと外部IdP上のユーザーIDでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderSubject(ctx context.Context, provider, subject string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// UserRecordRepository はユーザーレコードの永続化インターフェース。
// uidごとに高々1件のレコードを保持する。
type UserRecordRepository interface {
	// FindByUID は指定uidのレコードを取得する。見つからない場合はnilを返す。
	FindByUID(ctx context.Context, uid string) (*model.UserRecord, error)
	// Create はレコードを作成する。既に存在する場合はErrRecordExistsを返す。
	Create(ctx context.Context, record *model.UserRecord) error
}

// MentorRepository はメンター一覧の永続化インターフェース。
type MentorRepository interface {
	// ListAll は全メンターを登録順に返す。
	ListAll(ctx context.Context) ([]model.Mentor, error)
	// Create はメンターを作成する。
	Create(ctx context.Context, mentor *model.Mentor) error
}

// ResourceRepository は学習リソースの永続化インターフェース。
type ResourceRepository interface {
	// ListAll は全リソースを登録順に返す。
	ListAll(ctx context.Context) ([]model.Resource, error)
	// Upsert はURLをキーにリソースを作成または更新する。新規作成の場合はtrueを返す。
	Upsert(ctx context.Context, resource *model.Resource) (bool, error)
}
