package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"
	"mailsort_server/pkg/crypto"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// =============================================================================
// ConnectionAdapter - 메일 계정 연결 (oauth_connections)
// =============================================================================

// ConnectionSchema creates the connection table.
const ConnectionSchema = `
CREATE TABLE IF NOT EXISTS oauth_connections (
	id            BIGSERIAL PRIMARY KEY,
	user_id       TEXT        NOT NULL,
	provider      TEXT        NOT NULL,
	email         TEXT        NOT NULL DEFAULT '',
	access_token  TEXT        NOT NULL DEFAULT '',
	refresh_token TEXT        NOT NULL DEFAULT '',
	expires_at    TIMESTAMPTZ,
	scopes        TEXT[]      NOT NULL DEFAULT '{}',
	is_connected  BOOLEAN     NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (user_id, provider)
)`

// ConnectionAdapter implements out.ConnectionRepository using pgxpool.
// Tokens are decrypted on read when a cipher is configured.
type ConnectionAdapter struct {
	pool   *pgxpool.Pool
	cipher *crypto.TokenCipher
}

// NewConnectionAdapter creates a new ConnectionAdapter. cipher may be nil.
func NewConnectionAdapter(pool *pgxpool.Pool, cipher *crypto.TokenCipher) *ConnectionAdapter {
	return &ConnectionAdapter{pool: pool, cipher: cipher}
}

const connectionColumns = `
	id, user_id, provider, email, access_token, refresh_token,
	expires_at, scopes, is_connected, created_at, updated_at`

func (a *ConnectionAdapter) scan(row pgx.Row) (*domain.Connection, error) {
	var (
		c         domain.Connection
		provider  string
		expiresAt *time.Time
		scopes    pq.StringArray
	)
	err := row.Scan(&c.ID, &c.UserID, &provider, &c.Email, &c.AccessToken, &c.RefreshToken,
		&expiresAt, &scopes, &c.IsConnected, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	c.Provider = domain.Provider(provider)
	c.Scopes = []string(scopes)
	if expiresAt != nil {
		c.ExpiresAt = *expiresAt
	}
	c.AccessToken = a.cipher.OpenOrPlain(c.AccessToken)
	c.RefreshToken = a.cipher.OpenOrPlain(c.RefreshToken)
	return &c, nil
}

func (a *ConnectionAdapter) Get(ctx context.Context, userID string, provider domain.Provider) (*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM oauth_connections WHERE user_id = $1 AND provider = $2`

	c, err := a.scan(a.pool.QueryRow(ctx, query, userID, string(provider)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, out.ErrNotFound
		}
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return c, nil
}

// ListConnected returns all active connections (for scheduled sync).
func (a *ConnectionAdapter) ListConnected(ctx context.Context) ([]*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM oauth_connections WHERE is_connected = TRUE ORDER BY created_at`

	rows, err := a.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var result []*domain.Connection
	for rows.Next() {
		c, err := a.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// Save upserts a connection, sealing tokens when a cipher is configured.
func (a *ConnectionAdapter) Save(ctx context.Context, c *domain.Connection) error {
	access, refresh := c.AccessToken, c.RefreshToken
	if a.cipher != nil {
		var err error
		if access, err = a.cipher.Seal(access); err != nil {
			return err
		}
		if refresh, err = a.cipher.Seal(refresh); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO oauth_connections (user_id, provider, email, access_token, refresh_token, expires_at, scopes, is_connected)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			email = EXCLUDED.email,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			scopes = EXCLUDED.scopes,
			is_connected = TRUE,
			updated_at = NOW()
		RETURNING id`

	return a.pool.QueryRow(ctx, query, c.UserID, string(c.Provider), c.Email, access, refresh,
		c.ExpiresAt, pq.StringArray(c.Scopes)).Scan(&c.ID)
}

func (a *ConnectionAdapter) Delete(ctx context.Context, userID string, provider domain.Provider) error {
	_, err := a.pool.Exec(ctx, `DELETE FROM oauth_connections WHERE user_id = $1 AND provider = $2`, userID, string(provider))
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return nil
}

var _ out.ConnectionRepository = (*ConnectionAdapter)(nil)
