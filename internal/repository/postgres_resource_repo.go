package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/mentorbook/internal/model"
)

// PostgresResourceRepo はPostgreSQLを使用したリソースリポジトリ。
type PostgresResourceRepo struct {
	db *sql.DB
}

// NewPostgresResourceRepo はPostgresResourceRepoを生成する。
func NewPostgresResourceRepo(db *sql.DB) *PostgresResourceRepo {
	return &PostgresResourceRepo{db: db}
}

// ListAll は全リソースを登録順に返す。
func (r *PostgresResourceRepo) ListAll(ctx context.Context) ([]model.Resource, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, type, url, description, category
		 FROM resources
		 ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	resources := []model.Resource{}
	for rows.Next() {
		var res model.Resource
		var typ string
		if err := rows.Scan(&res.ID, &res.Title, &typ, &res.URL, &res.Description, &res.Category); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		res.Type = model.ResourceType(typ)
		model.ApplyResourceDefaults(&res)
		resources = append(resources, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate resources: %w", err)
	}
	return resources, nil
}

// Upsert はURLをキーにリソースを作成または更新する。
// 新規作成の場合はtrueを返す。更新時はIDを既存の値で上書きする。
func (r *PostgresResourceRepo) Upsert(ctx context.Context, res *model.Resource) (bool, error) {
	model.ApplyResourceDefaults(res)

	var inserted bool
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO resources (id, title, type, url, description, category, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		 ON CONFLICT (url) DO UPDATE SET
		   title = EXCLUDED.title,
		   type = EXCLUDED.type,
		   description = EXCLUDED.description,
		   category = EXCLUDED.category,
		   updated_at = now()
		 RETURNING id, (xmax = 0)`,
		res.ID, res.Title, string(res.Type), res.URL, res.Description, res.Category,
	).Scan(&res.ID, &inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert resource: %w", err)
	}
	return inserted, nil
}

// compile-time interface check
var _ ResourceRepository = (*PostgresResourceRepo)(nil)
