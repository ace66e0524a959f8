package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/mentorbook/internal/model"
)

// PostgresIdentityRepo はPostgreSQLを使用したidentityリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

const identityColumns = `uid, email, provider, provider_subject, password_hash, created_at`

// Create はidentityを作成する。
func (r *PostgresIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO identities (uid, email, provider, provider_subject, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		identity.UID, identity.Email, identity.Provider,
		nullString(identity.ProviderSubject), nullString(identity.PasswordHash), identity.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrIdentityExists
	}
	if err != nil {
		return fmt.Errorf("failed to create identity: %w", err)
	}
	return nil
}

// FindByUID は指定uidのidentityを取得する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByUID(ctx context.Context, uid string) (*model.Identity, error) {
	return r.findOne(ctx, `SELECT `+identityColumns+` FROM identities WHERE uid = $1`, uid)
}

// FindByEmail はメールアドレスでidentityを検索する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByEmail(ctx context.Context, email string) (*model.Identity, error) {
	return r.findOne(ctx, `SELECT `+identityColumns+` FROM identities WHERE email = $1`, email)
}

// FindByProviderSubject はproviderと外部IdP上のユーザーIDでidentityを検索する。
func (r *PostgresIdentityRepo) FindByProviderSubject(ctx context.Context, provider, subject string) (*model.Identity, error) {
	return r.findOne(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE provider = $1 AND provider_subject = $2`,
		provider, subject,
	)
}

func (r *PostgresIdentityRepo) findOne(ctx context.Context, query string, args ...any) (*model.Identity, error) {
	identity := &model.Identity{}
	var subject, hash sql.NullString
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&identity.UID, &identity.Email, &identity.Provider, &subject, &hash, &identity.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	identity.ProviderSubject = subject.String
	identity.PasswordHash = hash.String
	return identity, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
