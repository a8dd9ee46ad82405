package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ethaniconic/Swalambh-mvp/internal/domain"
	"github.com/Ethaniconic/Swalambh-mvp/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository = (*Repository)(nil)
	_ repository.CaseRepository = (*Repository)(nil)
)

const uniqueViolation = "23505"

// CreateUser inserts a user. A duplicate email maps to ErrConflict.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, full_name, role, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.FullName, user.Role, user.PasswordHash, user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return repository.ErrConflict
		}
		return err
	}
	return nil
}

// GetUserByEmail fetches a user by email. Callers pass lowercased emails.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, email, full_name, role, password_hash, created_at
		FROM users WHERE email = $1`
	row := r.pool.QueryRow(ctx, query, email)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, email, full_name, role, password_hash, created_at
		FROM users WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateCase inserts a triage case.
func (r *Repository) CreateCase(ctx context.Context, c *domain.TriageCase) error {
	const query = `INSERT INTO triage_cases (id, filename, content_type, size_bytes, note, file_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, c.ID, c.Filename, c.ContentType, c.SizeBytes, c.Note, c.FilePath, c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return repository.ErrConflict
		}
		return err
	}
	return nil
}

// ListCases returns triage cases newest first.
func (r *Repository) ListCases(ctx context.Context, limit, offset int) ([]domain.TriageCase, error) {
	const query = `SELECT id, filename, content_type, size_bytes, note, file_path, created_at
		FROM triage_cases
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cases := make([]domain.TriageCase, 0)
	for rows.Next() {
		var c domain.TriageCase
		if err := rows.Scan(&c.ID, &c.Filename, &c.ContentType, &c.SizeBytes, &c.Note, &c.FilePath, &c.CreatedAt); err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// GetCaseByID retrieves a triage case by identifier.
func (r *Repository) GetCaseByID(ctx context.Context, id string) (*domain.TriageCase, error) {
	const query = `SELECT id, filename, content_type, size_bytes, note, file_path, created_at
		FROM triage_cases WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var c domain.TriageCase
	if err := row.Scan(&c.ID, &c.Filename, &c.ContentType, &c.SizeBytes, &c.Note, &c.FilePath, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}
