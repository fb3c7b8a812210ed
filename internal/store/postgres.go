package store

import (
	"context"
	"database/sql"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const commentColumns = `id, org_number, topic_id, COALESCE(user_id, ''), comment, created_date, last_changed_date`

func (s *PostgresStore) InsertComment(ctx context.Context, item Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, org_number, topic_id, user_id, comment, created_date, last_changed_date)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
	`, item.ID, item.OrgNumber, item.TopicID, item.UserID, item.Body, item.CreatedDate, item.LastChangedDate)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	var item Comment
	err := s.db.QueryRowContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments
		WHERE id=$1
	`, commentID).Scan(
		&item.ID,
		&item.OrgNumber,
		&item.TopicID,
		&item.UserID,
		&item.Body,
		&item.CreatedDate,
		&item.LastChangedDate,
	)
	if err != nil {
		return Comment{}, err
	}
	return item, nil
}

// SaveComment replaces the mutable fields of an existing comment. Org, topic,
// author and created_date are immutable after insert.
func (s *PostgresStore) SaveComment(ctx context.Context, item Comment) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE comments
		SET comment=$2, last_changed_date=$3
		WHERE id=$1
	`, item.ID, item.Body, item.LastChangedDate)
	if err != nil {
		return fmt.Errorf("save comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCommentsByOrg(ctx context.Context, orgNumber string) ([]Comment, error) {
	return s.queryComments(ctx, `
		SELECT `+commentColumns+`
		FROM comments
		WHERE org_number=$1
	`, orgNumber)
}

func (s *PostgresStore) ListCommentsByOrgAndTopic(ctx context.Context, orgNumber, topicID string) ([]Comment, error) {
	return s.queryComments(ctx, `
		SELECT `+commentColumns+`
		FROM comments
		WHERE org_number=$1 AND topic_id=$2
	`, orgNumber, topicID)
}

// FindCommentsPage returns the records at rank [offset, offset+limit) under
// the total order (sortField, direction, id, direction). The id tiebreak
// keeps adjacent pages gap-free and duplicate-free when the primary key has
// equal values. No snapshot isolation: concurrent inserts between two page
// reads can still shift ranks.
func (s *PostgresStore) FindCommentsPage(ctx context.Context, orgNumber string, offset, limit int, sortField, direction string) ([]Comment, error) {
	query := `
		SELECT ` + commentColumns + `
		FROM comments
		WHERE org_number=$1
		` + orderByClause(sortField, direction) + `
		OFFSET $2 LIMIT $3
	`
	return s.queryComments(ctx, query, orgNumber, offset, limit)
}

func (s *PostgresStore) CountCommentsByOrg(ctx context.Context, orgNumber string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments WHERE org_number=$1`, orgNumber).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count comments: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) queryComments(ctx context.Context, query string, args ...any) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(
			&item.ID,
			&item.OrgNumber,
			&item.TopicID,
			&item.UserID,
			&item.Body,
			&item.CreatedDate,
			&item.LastChangedDate,
		); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

// sortColumns are the only columns a page query may order by. The paging
// normalizer already whitelists client input; this is the last gate before
// SQL.
var sortColumns = map[string]bool{
	"created_date":      true,
	"last_changed_date": true,
	"topic_id":          true,
	"comment":           true,
}

func orderByClause(sortField, direction string) string {
	if !sortColumns[sortField] {
		sortField = "created_date"
	}
	if direction != "ASC" {
		direction = "DESC"
	}
	return fmt.Sprintf("ORDER BY %s %s, id %s", sortField, direction, direction)
}

func (s *PostgresStore) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id=$1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) InsertUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
		ON CONFLICT (id) DO NOTHING
	`, user.ID, user.Name, user.Email)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(name, ''), COALESCE(email, '')
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.Name, &user.Email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}
