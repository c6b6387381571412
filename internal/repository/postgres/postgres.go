package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/domain"
	"github.com/galaxykicklock7/GalaxyKickLockWinFront-Gitlab/internal/repository"
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
	_ repository.UserRepository        = (*Repository)(nil)
	_ repository.SessionRepository     = (*Repository)(nil)
	_ repository.AccessTokenRepository = (*Repository)(nil)
	_ repository.DeploymentRepository  = (*Repository)(nil)
	_ repository.EventRepository       = (*Repository)(nil)
	_ repository.SettingsRepository    = (*Repository)(nil)
)

const userColumns = `id, username, password_hash, admin, active, token_id, access_until, created_at`

// CreateUserWithToken inserts the account and redeems the token in one transaction.
func (r *Repository) CreateUserWithToken(ctx context.Context, user *domain.User, tokenID string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const redeem = `UPDATE access_tokens SET used_by = $1, used_at = $2
		WHERE id = $3 AND used_by IS NULL`
	tag, err := tx.Exec(ctx, redeem, user.ID, user.CreatedAt, tokenID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrTokenUsed
	}

	if err := insertUser(ctx, tx, user); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateUser inserts an account without a token.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	return insertUser(ctx, r.pool, user)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertUser(ctx context.Context, db execer, user *domain.User) error {
	const query = `INSERT INTO users (id, username, password_hash, admin, active, token_id, access_until, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := db.Exec(ctx, query,
		user.ID,
		user.Username,
		user.PasswordHash,
		user.Admin,
		user.Active,
		user.TokenID,
		user.AccessUntil,
		user.CreatedAt,
	)
	return mapWriteError(err)
}

// GetUserByUsername fetches a user by username.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return scanUser(r.pool.QueryRow(ctx, query, username))
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Admin, &u.Active, &u.TokenID, &u.AccessUntil, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// ListUsers returns every account with the token it registered with.
func (r *Repository) ListUsers(ctx context.Context) ([]domain.UserSummary, error) {
	const query = `SELECT u.id, u.username, u.admin, u.active, COALESCE(t.value, ''), COALESCE(t.duration_months, 0), u.access_until, u.created_at
		FROM users u
		LEFT JOIN access_tokens t ON t.id = u.token_id
		ORDER BY u.created_at DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserSummary, 0)
	for rows.Next() {
		var u domain.UserSummary
		if err := rows.Scan(&u.ID, &u.Username, &u.Admin, &u.Active, &u.TokenValue, &u.DurationMonths, &u.AccessUntil, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateAccessUntil extends a subscription and reactivates the account.
func (r *Repository) UpdateAccessUntil(ctx context.Context, userID string, until time.Time) error {
	const query = `UPDATE users SET access_until = $2, active = TRUE WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, userID, until)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteUser removes an account; its sessions cascade.
func (r *Repository) DeleteUser(ctx context.Context, userID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateSession records a login.
func (r *Repository) CreateSession(ctx context.Context, session *domain.Session) error {
	const query = `INSERT INTO sessions (id, user_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, session.ID, session.UserID, session.CreatedAt, session.ExpiresAt)
	return mapWriteError(err)
}

// GetSession fetches a session by identifier.
func (r *Repository) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	const query = `SELECT id, user_id, created_at, expires_at, revoked_at FROM sessions WHERE id = $1`
	var s domain.Session
	err := r.pool.QueryRow(ctx, query, sessionID).Scan(&s.ID, &s.UserID, &s.CreatedAt, &s.ExpiresAt, &s.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// RevokeUserSessions revokes every live session of the user except keep.
func (r *Repository) RevokeUserSessions(ctx context.Context, userID, keep string, at time.Time) (int64, error) {
	const query = `UPDATE sessions SET revoked_at = $3
		WHERE user_id = $1 AND id <> $2 AND revoked_at IS NULL`
	tag, err := r.pool.Exec(ctx, query, userID, keep, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RevokeSession revokes a single session.
func (r *Repository) RevokeSession(ctx context.Context, sessionID string, at time.Time) error {
	const query = `UPDATE sessions SET revoked_at = COALESCE(revoked_at, $2) WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, sessionID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteSessionsBefore removes sessions that expired or were revoked before the cutoff.
func (r *Repository) DeleteSessionsBefore(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM sessions WHERE expires_at < $1 OR revoked_at < $1`
	tag, err := r.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CreateAccessToken stores a new registration token.
func (r *Repository) CreateAccessToken(ctx context.Context, token *domain.AccessToken) error {
	const query = `INSERT INTO access_tokens (id, value, duration_months, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, token.ID, token.Value, token.DurationMonths, token.CreatedAt)
	return mapWriteError(err)
}

const tokenColumns = `id, value, duration_months, used_by, used_at, created_at`

func scanToken(row pgx.Row, t *domain.AccessToken) error {
	return row.Scan(&t.ID, &t.Value, &t.DurationMonths, &t.UsedBy, &t.UsedAt, &t.CreatedAt)
}

// GetAccessTokenByValue looks a token up by its printed value.
func (r *Repository) GetAccessTokenByValue(ctx context.Context, value string) (*domain.AccessToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM access_tokens WHERE value = $1`
	var t domain.AccessToken
	if err := scanToken(r.pool.QueryRow(ctx, query, value), &t); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ListAccessTokens lists tokens, newest first, optionally filtered by duration.
func (r *Repository) ListAccessTokens(ctx context.Context, durationMonths int) ([]domain.AccessToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM access_tokens
		WHERE ($1 = 0 OR duration_months = $1)
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, durationMonths)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := make([]domain.AccessToken, 0)
	for rows.Next() {
		var t domain.AccessToken
		if err := scanToken(rows, &t); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// DeleteAccessToken removes a token and deactivates the account that registered with it.
func (r *Repository) DeleteAccessToken(ctx context.Context, tokenID string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE users SET active = FALSE WHERE token_id = $1`, tokenID); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM access_tokens WHERE id = $1`, tokenID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return tx.Commit(ctx)
}

// CreateDeployment inserts a deployment attempt.
func (r *Repository) CreateDeployment(ctx context.Context, record *domain.DeploymentRecord) error {
	const query = `INSERT INTO deployments (id, user_id, pipeline_id, subdomain, provider, status, message, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query,
		record.ID,
		record.UserID,
		record.PipelineID,
		record.Subdomain,
		record.Provider,
		record.Status,
		record.Message,
		record.StartedAt,
	)
	return mapWriteError(err)
}

// CompleteDeployment records the outcome of an attempt.
func (r *Repository) CompleteDeployment(ctx context.Context, id, status, message string, completedAt time.Time) error {
	const query = `UPDATE deployments SET status = $2, message = $3, completed_at = $4 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, status, message, completedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListDeploymentsByUser returns the newest attempts of a user.
func (r *Repository) ListDeploymentsByUser(ctx context.Context, userID string, limit int) ([]domain.DeploymentRecord, error) {
	const query = `SELECT id, user_id, pipeline_id, subdomain, provider, status, message, started_at, completed_at
		FROM deployments WHERE user_id = $1
		ORDER BY started_at DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.DeploymentRecord, 0)
	for rows.Next() {
		var d domain.DeploymentRecord
		if err := rows.Scan(&d.ID, &d.UserID, &d.PipelineID, &d.Subdomain, &d.Provider, &d.Status, &d.Message, &d.StartedAt, &d.CompletedAt); err != nil {
			return nil, err
		}
		records = append(records, d)
	}
	return records, rows.Err()
}

// AppendEvent persists an event and assigns its identifier.
func (r *Repository) AppendEvent(ctx context.Context, event *domain.Event) error {
	var progress []byte
	if event.Progress != nil {
		encoded, err := json.Marshal(event.Progress)
		if err != nil {
			return fmt.Errorf("encode progress: %w", err)
		}
		progress = encoded
	}
	const query = `INSERT INTO events (user_id, type, status, endpoint_url, progress, message, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	return r.pool.QueryRow(ctx, query,
		event.UserID,
		event.Type,
		string(event.Status),
		event.EndpointURL,
		jsonOrNil(progress),
		event.Message,
		jsonOrNil(event.Data),
		event.CreatedAt,
	).Scan(&event.ID)
}

// ListEventsByUser returns the newest events of a user.
func (r *Repository) ListEventsByUser(ctx context.Context, userID string, limit int) ([]domain.Event, error) {
	const query = `SELECT id, user_id, type, status, endpoint_url, progress, message, data, created_at
		FROM events WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.Event, 0)
	for rows.Next() {
		var (
			e        domain.Event
			status   string
			progress []byte
			data     []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &status, &e.EndpointURL, &progress, &e.Message, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = domain.DeploymentStatus(status)
		if len(progress) > 0 {
			var p domain.Progress
			if err := json.Unmarshal(progress, &p); err != nil {
				return nil, fmt.Errorf("decode progress of event %d: %w", e.ID, err)
			}
			e.Progress = &p
		}
		if len(data) > 0 {
			e.Data = json.RawMessage(data)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteEventsBefore removes events created before the cutoff.
func (r *Repository) DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM events WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UpsertBackendSettings stores the sealed configuration document of a user.
func (r *Repository) UpsertBackendSettings(ctx context.Context, userID string, sealed []byte, updatedAt time.Time) error {
	const query = `INSERT INTO backend_settings (user_id, sealed, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET sealed = EXCLUDED.sealed, updated_at = EXCLUDED.updated_at`
	_, err := r.pool.Exec(ctx, query, userID, sealed, updatedAt)
	return mapWriteError(err)
}

// GetBackendSettings returns the sealed configuration document of a user.
func (r *Repository) GetBackendSettings(ctx context.Context, userID string) ([]byte, time.Time, error) {
	const query = `SELECT sealed, updated_at FROM backend_settings WHERE user_id = $1`
	var (
		sealed    []byte
		updatedAt time.Time
	)
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&sealed, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, time.Time{}, repository.ErrNotFound
		}
		return nil, time.Time{}, err
	}
	return sealed, updatedAt, nil
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return repository.ErrConflict
		case "23503":
			return repository.ErrNotFound
		}
	}
	return err
}

func jsonOrNil(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
