package postgres

import (
	"context"
	"errors"

	"github.com/ksavchuk/contacthub/internal/domain/user"
	"github.com/ksavchuk/contacthub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, email, password_hash, subscription, token, verify, verification_code, avatar_url, created_at, updated_at`

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom}
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *UsersRepo) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.BeginTx(ctx, pgx.TxOptions{})
}

// CreateTx inserts a new user inside an open transaction so the caller can
// enqueue the verification email atomically with the insert. A violation of
// the email uniqueness constraint maps to user.ErrEmailInUse.
func (r *UsersRepo) CreateTx(ctx context.Context, tx pgx.Tx, u user.User) (user.User, error) {
	err := r.observe("users.create_tx", func() error {
		_, e := tx.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, subscription, token, verify, verification_code, avatar_url, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, u.ID, u.Email, u.PasswordHash, string(u.Subscription), u.Token, u.Verify, u.VerificationCode, u.AvatarURL, u.CreatedAt, u.UpdatedAt)
		return e
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return user.User{}, user.ErrEmailInUse
		}
		return user.User{}, err
	}

	return u, nil
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	return r.getBy(ctx, "users.get_by_email", `WHERE email = $1`, email)
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	return r.getBy(ctx, "users.get_by_id", `WHERE id = $1`, id)
}

func (r *UsersRepo) getBy(ctx context.Context, op, where string, arg any) (user.User, error) {
	var u user.User
	var subscription string

	err := r.observe(op, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users `+where,
			arg,
		).Scan(
			&u.ID,
			&u.Email,
			&u.PasswordHash,
			&subscription,
			&u.Token,
			&u.Verify,
			&u.VerificationCode,
			&u.AvatarURL,
			&u.CreatedAt,
			&u.UpdatedAt,
		)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}

		return user.User{}, err
	}

	u.Subscription = user.Subscription(subscription)
	return u, nil
}

// MarkVerified flips verify and clears the code in one guarded statement.
// The guard on a non-empty code makes verification one-shot: a second call
// with the already-cleared code matches zero rows and reports ErrNotFound.
func (r *UsersRepo) MarkVerified(ctx context.Context, code string) (user.User, error) {
	var u user.User
	var subscription string

	err := r.observe("users.mark_verified", func() error {
		return r.pool.QueryRow(ctx, `
		UPDATE users
		SET verify = TRUE,
		    verification_code = '',
		    updated_at = NOW()
		WHERE verification_code = $1 AND verification_code <> ''
		RETURNING `+userColumns+`
	`, code).Scan(
			&u.ID,
			&u.Email,
			&u.PasswordHash,
			&subscription,
			&u.Token,
			&u.Verify,
			&u.VerificationCode,
			&u.AvatarURL,
			&u.CreatedAt,
			&u.UpdatedAt,
		)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}

		return user.User{}, err
	}

	u.Subscription = user.Subscription(subscription)
	return u, nil
}

func (r *UsersRepo) SetToken(ctx context.Context, id, token string) error {
	return r.updateField(ctx, "users.set_token", `token = $2`, id, token)
}

func (r *UsersRepo) ClearToken(ctx context.Context, id string) error {
	return r.updateField(ctx, "users.clear_token", `token = ''`, id)
}

func (r *UsersRepo) UpdateAvatar(ctx context.Context, id, avatarURL string) error {
	return r.updateField(ctx, "users.update_avatar", `avatar_url = $2`, id, avatarURL)
}

func (r *UsersRepo) updateField(ctx context.Context, op, set string, args ...any) error {
	err := r.observe(op, func() error {
		tag, e := r.pool.Exec(ctx, `UPDATE users SET `+set+`, updated_at = NOW() WHERE id = $1`, args...)

		if e != nil {
			return e
		}

		if tag.RowsAffected() == 0 {
			return user.ErrNotFound
		}

		return nil
	})

	return err
}

func (r *UsersRepo) UpdateSubscription(ctx context.Context, id string, sub user.Subscription) (user.User, error) {
	var u user.User
	var subscription string

	err := r.observe("users.update_subscription", func() error {
		return r.pool.QueryRow(ctx, `
		UPDATE users
		SET subscription = $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+userColumns+`
	`, id, string(sub)).Scan(
			&u.ID,
			&u.Email,
			&u.PasswordHash,
			&subscription,
			&u.Token,
			&u.Verify,
			&u.VerificationCode,
			&u.AvatarURL,
			&u.CreatedAt,
			&u.UpdatedAt,
		)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}

		return user.User{}, err
	}

	u.Subscription = user.Subscription(subscription)
	return u, nil
}
