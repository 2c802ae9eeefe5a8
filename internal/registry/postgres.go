package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects to Postgres and verifies the connection.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

func (p *Pool) Close() {
	p.Pool.Close()
}

const pgErrUniqueViolation = "23505"

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}

func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id               TEXT PRIMARY KEY,
	wallet_address        TEXT NOT NULL,
	encrypted_private_key BYTEA NOT NULL,
	salt                  BYTEA NOT NULL,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS copy_trading (
	user_id        TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
	trader_address TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, trader_address)
);

CREATE INDEX IF NOT EXISTS idx_copy_trading_trader ON copy_trading (trader_address);
`

// EnsureSchema applies the idempotent schema. Called once at startup.
func EnsureSchema(ctx context.Context, pool *Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply registry schema: %w", err)
	}
	return nil
}

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *Pool
}

func NewPostgresStore(pool *Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) SaveUser(ctx context.Context, u *User) error {
	if err := u.validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO users (user_id, wallet_address, encrypted_private_key, salt)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			wallet_address        = EXCLUDED.wallet_address,
			encrypted_private_key = EXCLUDED.encrypted_private_key,
			salt                  = EXCLUDED.salt,
			updated_at            = now()
	`
	_, err := s.pool.Exec(ctx, query, u.ID, addrKey(u.Wallet), u.EncryptedKey, u.Salt)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT user_id, wallet_address, encrypted_private_key, salt
		FROM users
		WHERE user_id = $1
	`
	row := s.pool.QueryRow(ctx, query, id)
	u, err := scanUser(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) Follow(ctx context.Context, userID string, leader common.Address) error {
	query := `
		INSERT INTO copy_trading (user_id, trader_address)
		VALUES ($1, $2)
		ON CONFLICT (user_id, trader_address) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, query, userID, addrKey(leader))
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("follow %s: %w", leader.Hex(), err)
	}
	return nil
}

func (s *PostgresStore) Unfollow(ctx context.Context, userID string, leader common.Address) error {
	query := `DELETE FROM copy_trading WHERE user_id = $1 AND trader_address = $2`
	if _, err := s.pool.Exec(ctx, query, userID, addrKey(leader)); err != nil {
		return fmt.Errorf("unfollow %s: %w", leader.Hex(), err)
	}
	return nil
}

func (s *PostgresStore) FollowersOf(ctx context.Context, leader common.Address) ([]User, error) {
	query := `
		SELECT u.user_id, u.wallet_address, u.encrypted_private_key, u.salt
		FROM users u
		JOIN copy_trading ct ON ct.user_id = u.user_id
		WHERE ct.trader_address = $1
		ORDER BY u.user_id ASC
	`
	rows, err := s.pool.Query(ctx, query, addrKey(leader))
	if err != nil {
		return nil, fmt.Errorf("followers of %s: %w", leader.Hex(), err)
	}
	defer rows.Close()

	return scanUsers(rows)
}

func (s *PostgresStore) LeadersOf(ctx context.Context, userID string) ([]common.Address, error) {
	query := `
		SELECT trader_address FROM copy_trading
		WHERE user_id = $1
		ORDER BY trader_address ASC
	`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("leaders of %s: %w", userID, err)
	}
	defer rows.Close()

	return scanAddresses(rows)
}

func (s *PostgresStore) Leaders(ctx context.Context) ([]common.Address, error) {
	query := `SELECT DISTINCT trader_address FROM copy_trading ORDER BY trader_address ASC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list leaders: %w", err)
	}
	defer rows.Close()

	return scanAddresses(rows)
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var wallet string
	if err := row.Scan(&u.ID, &wallet, &u.EncryptedKey, &u.Salt); err != nil {
		return nil, err
	}
	u.Wallet = common.HexToAddress(wallet)
	return &u, nil
}

func scanUsers(rows pgx.Rows) ([]User, error) {
	var users []User
	for rows.Next() {
		var u User
		var wallet string
		if err := rows.Scan(&u.ID, &wallet, &u.EncryptedKey, &u.Salt); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		u.Wallet = common.HexToAddress(wallet)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user rows: %w", err)
	}
	return users, nil
}

func scanAddresses(rows pgx.Rows) ([]common.Address, error) {
	var addrs []common.Address
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan address row: %w", err)
		}
		addrs = append(addrs, common.HexToAddress(s))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate address rows: %w", err)
	}
	return addrs, nil
}
