package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/mentorbook/internal/model"
)

// PostgresMentorRepo はPostgreSQLを使用したメンターリポジトリ。
type PostgresMentorRepo struct {
	db *sql.DB
}

// NewPostgresMentorRepo はPostgresMentorRepoを生成する。
func NewPostgresMentorRepo(db *sql.DB) *PostgresMentorRepo {
	return &PostgresMentorRepo{db: db}
}

// ListAll は全メンターを登録順に返す。欠損値は既定値で補完する。
func (r *PostgresMentorRepo) ListAll(ctx context.Context) ([]model.Mentor, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, title, company, expertise, bio, image_url, hourly_rate, rating, payment_url
		 FROM mentors
		 ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list mentors: %w", err)
	}
	defer rows.Close()

	mentors := []model.Mentor{}
	for rows.Next() {
		var m model.Mentor
		var expertise pq.StringArray
		if err := rows.Scan(&m.ID, &m.Name, &m.Title, &m.Company, &expertise, &m.Bio,
			&m.ImageURL, &m.HourlyRate, &m.Rating, &m.PaymentURL); err != nil {
			return nil, fmt.Errorf("failed to scan mentor: %w", err)
		}
		m.Expertise = []string(expertise)
		model.ApplyMentorDefaults(&m)
		mentors = append(mentors, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate mentors: %w", err)
	}
	return mentors, nil
}

// Create はメンターを作成する。
func (r *PostgresMentorRepo) Create(ctx context.Context, m *model.Mentor) error {
	model.ApplyMentorDefaults(m)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO mentors (id, name, title, company, expertise, bio, image_url, hourly_rate, rating, payment_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
		m.ID, m.Name, m.Title, m.Company, pq.Array(m.Expertise), m.Bio,
		m.ImageURL, m.HourlyRate, m.Rating, m.PaymentURL,
	)
	if err != nil {
		return fmt.Errorf("failed to create mentor: %w", err)
	}
	return nil
}

// compile-time interface check
var _ MentorRepository = (*PostgresMentorRepo)(nil)
