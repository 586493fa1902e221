// Package pg is the postgres persistence layer. It implements the moderation
// store and the notification queue on the same database so a case action and
// its pending notification share one durability domain.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"wallo.org/internal/moderation"
)

type Store struct {
	db *sql.DB
}

var _ moderation.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing handle. Used by tests.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) CreateOrganization(ctx context.Context, org moderation.Organization) error {
	_, err := s.db.ExecContext(ctx, `
		insert into organizations(id, name, admin_id, created_at, updated_at)
		values ($1, $2, $3, now(), now())
	`, org.ID, org.Name, org.AdminID)
	return translateUnique(err)
}

func (s *Store) OrganizationByID(ctx context.Context, id string) (moderation.Organization, error) {
	var org moderation.Organization
	err := s.db.QueryRowContext(ctx, `
		select id, name, admin_id, created_at, updated_at
		from organizations where id = $1
	`, id).Scan(&org.ID, &org.Name, &org.AdminID, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return moderation.Organization{}, moderation.ErrNotFound
	}
	if err != nil {
		return moderation.Organization{}, err
	}
	return org, nil
}

func (s *Store) CreatePlatform(ctx context.Context, p moderation.Platform) error {
	_, err := s.db.ExecContext(ctx, `
		insert into platforms(id, organization_id, name, callback_url, secret, created_at)
		values ($1, $2, $3, $4, $5, now())
	`, p.ID, p.OrganizationID, p.Name, p.CallbackURL, p.Secret)
	return translateUnique(err)
}

func (s *Store) PlatformByID(ctx context.Context, id string) (moderation.Platform, error) {
	var p moderation.Platform
	err := s.db.QueryRowContext(ctx, `
		select id, organization_id, name, callback_url, secret, created_at
		from platforms where id = $1
	`, id).Scan(&p.ID, &p.OrganizationID, &p.Name, &p.CallbackURL, &p.Secret, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return moderation.Platform{}, moderation.ErrNotFound
	}
	if err != nil {
		return moderation.Platform{}, err
	}
	return p, nil
}

func (s *Store) UpdatePlatformSecret(ctx context.Context, id, secret string) error {
	res, err := s.db.ExecContext(ctx, `update platforms set secret = $2 where id = $1`, id, secret)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return moderation.ErrNotFound
	}
	return nil
}

func (s *Store) CreateRule(ctx context.Context, rule moderation.Rule) error {
	_, err := s.db.ExecContext(ctx, `
		insert into rules(id, platform_id, readable_name, title, description, active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, now(), now())
	`, rule.ID, rule.PlatformID, rule.ReadableName, rule.Information.Title, rule.Information.Description, rule.Active)
	return translateUnique(err)
}

func (s *Store) RulesForPlatform(ctx context.Context, platformID string) ([]moderation.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, platform_id, readable_name, title, description, active, created_at, updated_at
		from rules where platform_id = $1
		order by created_at
	`, platformID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []moderation.Rule
	for rows.Next() {
		var r moderation.Rule
		if err := rows.Scan(&r.ID, &r.PlatformID, &r.ReadableName, &r.Information.Title, &r.Information.Description, &r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CreateCase(ctx context.Context, c moderation.Case) error {
	status := c.Status
	if status == "" {
		status = moderation.StatusUnresolved
	}
	_, err := s.db.ExecContext(ctx, `
		insert into cases(platform_id, relevant_id, kind, status, created_at, updated_at)
		values ($1, $2, $3, $4, now(), now())
	`, c.PlatformID, c.RelevantID, string(c.Kind), string(status))
	return translateUnique(err)
}

func (s *Store) CaseByRef(ctx context.Context, ref moderation.CaseRef) (moderation.Case, error) {
	var c moderation.Case
	var kind, status string
	err := s.db.QueryRowContext(ctx, `
		select platform_id, relevant_id, kind, status, created_at, updated_at
		from cases where platform_id = $1 and relevant_id = $2 and kind = $3
	`, ref.PlatformID, ref.RelevantID, string(ref.Kind)).
		Scan(&c.PlatformID, &c.RelevantID, &kind, &status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return moderation.Case{}, moderation.ErrNotFound
	}
	if err != nil {
		return moderation.Case{}, err
	}
	c.Kind = moderation.Kind(kind)
	c.Status = moderation.CaseStatus(status)
	return c, nil
}

func (s *Store) UnresolvedCases(ctx context.Context, platformID string, limit int) ([]moderation.Case, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select platform_id, relevant_id, kind, status, created_at, updated_at
		from cases
		where platform_id = $1 and status = 'unresolved'
		order by created_at, relevant_id
		limit $2
	`, platformID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []moderation.Case
	for rows.Next() {
		var c moderation.Case
		var kind, status string
		if err := rows.Scan(&c.PlatformID, &c.RelevantID, &kind, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Kind = moderation.Kind(kind)
		c.Status = moderation.CaseStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ResolveCase(ctx context.Context, ref moderation.CaseRef) error {
	res, err := s.db.ExecContext(ctx, `
		update cases set status = 'resolved', updated_at = now()
		where platform_id = $1 and relevant_id = $2 and kind = $3
	`, ref.PlatformID, ref.RelevantID, string(ref.Kind))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return moderation.ErrNotFound
	}
	return nil
}

func (s *Store) AppendAction(ctx context.Context, a moderation.Action) error {
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into actions(id, platform_id, relevant_id, kind, author_id, payload_kind, payload_id, payload_display, payload_text, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.PlatformID, a.RelevantID, string(a.Kind), nullable(a.AuthorID),
		a.Payload.Kind, nullable(a.Payload.ID), nullable(a.Payload.Display), nullable(a.Payload.Text), created)
	return translateUnique(err)
}

func (s *Store) ActionsForCase(ctx context.Context, ref moderation.CaseRef) ([]moderation.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		select a.id, a.platform_id, a.relevant_id, a.kind, coalesce(a.author_id, ''),
		       coalesce(m.name, ''), a.payload_kind, coalesce(a.payload_id, ''),
		       coalesce(a.payload_display, ''), coalesce(a.payload_text, ''), a.created_at
		from actions a
		left join moderators m on m.id = a.author_id
		where a.platform_id = $1 and a.relevant_id = $2 and a.kind = $3
		order by a.created_at
	`, ref.PlatformID, ref.RelevantID, string(ref.Kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []moderation.Action
	for rows.Next() {
		var a moderation.Action
		var kind string
		if err := rows.Scan(&a.ID, &a.PlatformID, &a.RelevantID, &kind, &a.AuthorID,
			&a.AuthorName, &a.Payload.Kind, &a.Payload.ID, &a.Payload.Display, &a.Payload.Text, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Kind = moderation.Kind(kind)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) CreateModerator(ctx context.Context, m moderation.Moderator) error {
	_, err := s.db.ExecContext(ctx, `
		insert into moderators(id, email, name, password_hash, created_at)
		values ($1, lower($2), $3, $4, now())
	`, m.ID, m.Email, m.Name, m.PasswordHash)
	return translateUnique(err)
}

func (s *Store) ModeratorByEmail(ctx context.Context, email string) (moderation.Moderator, error) {
	var m moderation.Moderator
	err := s.db.QueryRowContext(ctx, `
		select id, email, name, password_hash, created_at
		from moderators where email = lower($1)
	`, email).Scan(&m.ID, &m.Email, &m.Name, &m.PasswordHash, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return moderation.Moderator{}, moderation.ErrNotFound
	}
	if err != nil {
		return moderation.Moderator{}, err
	}
	return m, nil
}

func (s *Store) AddPlatformModerator(ctx context.Context, platformID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into platform_moderators(platform_id, moderator_id)
		values ($1, $2)
		on conflict do nothing
	`, platformID, userID)
	return err
}

func (s *Store) IsPlatformModerator(ctx context.Context, platformID, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		select 1 from platform_moderators
		where platform_id = $1 and moderator_id = $2
	`, platformID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// translateUnique maps postgres unique violations (SQLSTATE 23505) onto the
// domain error so callers can branch without importing driver types.
func translateUnique(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return moderation.ErrAlreadyExists
	}
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
