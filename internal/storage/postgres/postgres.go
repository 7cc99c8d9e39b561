package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"account_service/internal/config"
	"account_service/internal/models"
	"account_service/internal/storage"
	"account_service/internal/storage/postgres/migrations"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type PostgresRepo struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg *config.Config) (*PostgresRepo, error) {
	const op = "storage.postgres.New"

	dsn := dsn(cfg)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create pool: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: failed to ping database: %w", op, err)
	}

	if err := runMigrations(ctx, dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &PostgresRepo{pool: pool}, nil
}

func runMigrations(ctx context.Context, dsn string) error {
	const op = "storage.postgres.runMigrations"

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("%s: failed to open migration connection: %w", op, err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("%s: failed to apply migrations: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) SaveUser(
	ctx context.Context,
	email, name string,
	passHash []byte,
	verificationToken string,
) (uuid.UUID, error) {
	const op = "storage.postgres.SaveUser"

	query := `
		INSERT INTO users (id, email, name, password_hash, verification_token)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id;
	`

	id := uuid.New()

	err := r.pool.QueryRow(ctx, query, id, email, name, string(passHash), verificationToken).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return uuid.Nil, storage.ErrUserExists
		}

		return uuid.Nil, fmt.Errorf("%s: failed to save user: %w", op, err)
	}

	return id, nil
}

func (r *PostgresRepo) UserByEmail(ctx context.Context, email string) (models.User, error) {
	query := `
		SELECT id, email, name, password_hash, is_verified, created_at
		FROM users
		WHERE email = $1;
	`

	return r.scanUser(r.pool.QueryRow(ctx, query, email))
}

func (r *PostgresRepo) UserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	query := `
		SELECT id, email, name, password_hash, is_verified, created_at
		FROM users
		WHERE id = $1;
	`

	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *PostgresRepo) scanUser(row pgx.Row) (models.User, error) {
	var (
		u        models.User
		passHash string
	)

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&passHash,
		&u.IsVerified,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}

		return models.User{}, err
	}

	u.PassHash = []byte(passHash)

	return u, nil
}

// ConsumeVerificationToken marks the matching user verified and clears
// the token in one statement, so the token cannot be consumed twice.
func (r *PostgresRepo) ConsumeVerificationToken(ctx context.Context, token string) (uuid.UUID, error) {
	const op = "storage.postgres.ConsumeVerificationToken"

	query := `
		UPDATE users
		SET is_verified = TRUE, verification_token = NULL
		WHERE verification_token = $1
		RETURNING id;
	`

	var id uuid.UUID

	err := r.pool.QueryRow(ctx, query, token).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, storage.ErrTokenNotFound
		}

		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (r *PostgresRepo) SetVerificationToken(ctx context.Context, userID uuid.UUID, token string) error {
	const op = "storage.postgres.SetVerificationToken"

	query := `UPDATE users SET verification_token = $1 WHERE id = $2 AND NOT is_verified;`

	tag, err := r.pool.Exec(ctx, query, token, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrUserNotFound
	}

	return nil
}

func (r *PostgresRepo) SetResetToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	const op = "storage.postgres.SetResetToken"

	query := `
		UPDATE users
		SET reset_password_token = $1, reset_password_expires_at = $2
		WHERE id = $3;
	`

	tag, err := r.pool.Exec(ctx, query, token, expiresAt, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrUserNotFound
	}

	return nil
}

// ConsumePasswordReset matches token and expiry, sets the new password
// hash and clears the reset window in a single conditional UPDATE. The
// match and the clear are atomic, so a concurrent retry with the same
// token loses the race and gets ErrTokenNotFound.
func (r *PostgresRepo) ConsumePasswordReset(
	ctx context.Context,
	token string,
	now time.Time,
	newPassHash []byte,
) (uuid.UUID, error) {
	const op = "storage.postgres.ConsumePasswordReset"

	query := `
		UPDATE users
		SET password_hash = $1, reset_password_token = NULL, reset_password_expires_at = NULL
		WHERE reset_password_token = $2 AND reset_password_expires_at > $3
		RETURNING id;
	`

	var id uuid.UUID

	err := r.pool.QueryRow(ctx, query, string(newPassHash), token, now).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, storage.ErrTokenNotFound
		}

		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (r *PostgresRepo) SetRefreshHash(ctx context.Context, userID uuid.UUID, hash string) error {
	const op = "storage.postgres.SetRefreshHash"

	query := `UPDATE users SET refresh_token_hash = $1 WHERE id = $2;`

	tag, err := r.pool.Exec(ctx, query, hash, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrUserNotFound
	}

	return nil
}

// SwapRefreshHash replaces the stored refresh hash only if the caller
// still holds the current one. A stale or already-rotated token fails
// with ErrSessionNotFound.
func (r *PostgresRepo) SwapRefreshHash(ctx context.Context, userID uuid.UUID, oldHash, newHash string) error {
	const op = "storage.postgres.SwapRefreshHash"

	query := `
		UPDATE users
		SET refresh_token_hash = $1
		WHERE id = $2 AND refresh_token_hash = $3;
	`

	tag, err := r.pool.Exec(ctx, query, newHash, userID, oldHash)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrSessionNotFound
	}

	return nil
}

func (r *PostgresRepo) ClearRefreshHash(ctx context.Context, userID uuid.UUID, hash string) error {
	const op = "storage.postgres.ClearRefreshHash"

	query := `
		UPDATE users
		SET refresh_token_hash = NULL
		WHERE id = $1 AND refresh_token_hash = $2;
	`

	tag, err := r.pool.Exec(ctx, query, userID, hash)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrSessionNotFound
	}

	return nil
}

func (r *PostgresRepo) Close() {
	r.pool.Close()
}

// * dsn формирует конфигурацию базы данных.
func dsn(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s database=%s sslmode=%s",
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
	)
}
