package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/mentorbook/internal/model"
)

// PostgresUserRecordRepo はPostgreSQLを使用したユーザーレコードリポジトリ。
// user_recordsテーブルはuidを主キーとし、roleカラムでメンティー/メンターを区別する。
type PostgresUserRecordRepo struct {
	db *sql.DB
}

// NewPostgresUserRecordRepo はPostgresUserRecordRepoを生成する。
func NewPostgresUserRecordRepo(db *sql.DB) *PostgresUserRecordRepo {
	return &PostgresUserRecordRepo{db: db}
}

// FindByUID は指定uidのレコードを取得する。見つからない場合はnilを返す。
// 空の名前はDefaultUserNameに置き換える。
func (r *PostgresUserRecordRepo) FindByUID(ctx context.Context, uid string) (*model.UserRecord, error) {
	rec := &model.UserRecord{}
	var role string
	err := r.db.QueryRowContext(ctx,
		`SELECT uid, name, email, role, created_at FROM user_records WHERE uid = $1`,
		uid,
	).Scan(&rec.UID, &rec.Name, &rec.Email, &role, &rec.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user record: %w", err)
	}

	rec.Role = model.Role(role)
	if rec.Name == "" {
		rec.Name = model.DefaultUserName
	}
	return rec, nil
}

// Create はレコードを作成する。uidが重複する場合はErrRecordExistsを返す。
func (r *PostgresUserRecordRepo) Create(ctx context.Context, record *model.UserRecord) error {
	if !record.Role.Valid() {
		return fmt.Errorf("invalid role: %q", record.Role)
	}
	name := record.Name
	if name == "" {
		name = model.DefaultUserName
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_records (uid, name, email, role, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		record.UID, name, record.Email, string(record.Role), record.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrRecordExists
	}
	if err != nil {
		return fmt.Errorf("failed to create user record: %w", err)
	}
	record.Name = name
	return nil
}

// compile-time interface check
var _ UserRecordRepository = (*PostgresUserRecordRepo)(nil)
