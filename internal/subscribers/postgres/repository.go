// Package postgres provides the PostgreSQL implementation of the
// subscribers repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mailloop/mailloop/internal/access"
	"github.com/mailloop/mailloop/internal/domain"
	"github.com/mailloop/mailloop/internal/subscribers"
)

const uniqueViolation = "23505"

// Repository implements subscribers.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const subscriberColumns = `
	id, email, name, locale, status, email_preferences,
	magic_link_token, magic_link_token_expiry, magic_link_used_at,
	unsubscribed_at, created_at, updated_at
`

// Create inserts a new subscriber.
func (r *Repository) Create(ctx context.Context, sub *domain.Subscriber) error {
	query := `
		INSERT INTO subscribers (
			id, email, name, locale, status, email_preferences, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		sub.ID,
		sub.Email,
		sub.Name,
		sub.Locale,
		sub.Status,
		sub.EmailPreferences,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return subscribers.ErrDuplicateEmail
		}
		return fmt.Errorf("create subscriber: %w", err)
	}
	return nil
}

// GetByID retrieves a subscriber by id.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, id), "get subscriber by id")
}

// GetByEmail retrieves a subscriber by normalized email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE email = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, email), "get subscriber by email")
}

// Update writes all mutable subscriber fields in one statement, keeping the
// lifecycle read-modify-write atomic at the row level.
func (r *Repository) Update(ctx context.Context, sub *domain.Subscriber) error {
	query := `
		UPDATE subscribers
		SET email = $2,
		    name = $3,
		    locale = $4,
		    status = $5,
		    email_preferences = $6,
		    magic_link_token = $7,
		    magic_link_token_expiry = $8,
		    magic_link_used_at = $9,
		    unsubscribed_at = $10,
		    updated_at = $11
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		sub.ID,
		sub.Email,
		sub.Name,
		sub.Locale,
		sub.Status,
		sub.EmailPreferences,
		sub.MagicLinkToken,
		sub.MagicLinkTokenExpiry,
		sub.MagicLinkUsedAt,
		sub.UnsubscribedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return subscribers.ErrDuplicateEmail
		}
		return fmt.Errorf("update subscriber: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscribers.ErrSubscriberNotFound
	}
	return nil
}

// SetMagicLink records the fingerprint and expiry of the latest issued
// magic link, superseding any previous one.
func (r *Repository) SetMagicLink(ctx context.Context, id, fingerprint string, expiresAt time.Time) error {
	query := `
		UPDATE subscribers
		SET magic_link_token = $2,
		    magic_link_token_expiry = $3,
		    magic_link_used_at = NULL,
		    updated_at = now()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, fingerprint, expiresAt)
	if err != nil {
		return fmt.Errorf("set magic link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscribers.ErrSubscriberNotFound
	}
	return nil
}

// List retrieves subscribers matching the access filter, newest first.
func (r *Repository) List(ctx context.Context, filter access.Filter, limit, offset int) ([]domain.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers`
	args := []interface{}{}

	if !filter.Unrestricted() {
		query += ` WHERE id = $1`
		args = append(args, filter.ID)
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	subs := make([]domain.Subscriber, 0)
	for rows.Next() {
		var sub domain.Subscriber
		if err := scanSubscriber(rows, &sub); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	return subs, nil
}

func (r *Repository) scanOne(row pgx.Row, op string) (*domain.Subscriber, error) {
	var sub domain.Subscriber
	if err := scanSubscriber(row, &sub); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, subscribers.ErrSubscriberNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &sub, nil
}

func scanSubscriber(row pgx.Row, sub *domain.Subscriber) error {
	return row.Scan(
		&sub.ID,
		&sub.Email,
		&sub.Name,
		&sub.Locale,
		&sub.Status,
		&sub.EmailPreferences,
		&sub.MagicLinkToken,
		&sub.MagicLinkTokenExpiry,
		&sub.MagicLinkUsedAt,
		&sub.UnsubscribedAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
}
