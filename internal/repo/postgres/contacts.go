package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/ksavchuk/contacthub/internal/domain/contact"
	"github.com/ksavchuk/contacthub/internal/observability"
	"github.com/ksavchuk/contacthub/internal/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ContactsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewContactsRepo(pool *pgxpool.Pool, prom *observability.Prom) *ContactsRepo {
	return &ContactsRepo{pool: pool, prom: prom}
}

func (repo *ContactsRepo) observe(op string, fn func() error) error {
	if repo.prom != nil {
		return repo.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (repo *ContactsRepo) Create(ctx context.Context, req contact.CreateContactRequest) (c contact.Contact, err error) {
	c = contact.NewFromCreateRequest(req)

	err = repo.observe("contacts.create", func() error {
		_, e := repo.pool.Exec(ctx, `
		INSERT INTO contacts (id, user_id, name, email, phone, favorite, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, c.ID, c.UserID, c.Name, c.Email, c.Phone, c.Favorite, c.CreatedAt, c.UpdatedAt)
		return e
	})

	if err != nil {
		c = contact.Contact{}
		return
	}

	return
}

// GetByID is owner-scoped: a contact belonging to someone else behaves
// exactly like a missing one.
func (repo *ContactsRepo) GetByID(ctx context.Context, userID, contactID string) (found contact.Contact, err error) {
	var c contact.Contact

	err = repo.observe("contacts.get_by_id", func() error {
		return repo.pool.QueryRow(ctx, `
		SELECT id, user_id, name, email, phone, favorite, created_at, updated_at
		FROM contacts
		WHERE id = $1 AND user_id = $2
	`, contactID, userID).Scan(&c.ID, &c.UserID, &c.Name, &c.Email, &c.Phone, &c.Favorite, &c.CreatedAt, &c.UpdatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = contact.ErrNotFound
		}
		return
	}

	found = c
	return
}

// buildContactsListQuery drops the tuple predicate entirely on the first
// page: an empty afterID must never reach the uuid column, since '' is not
// a valid uuid in either pgx's binary encoding or server-side text casting.
func buildContactsListQuery(userID string, limit int, afterCreatedAt time.Time, afterID string) (string, []any) {
	limitPlusOne := limit + 1

	if afterID == "" {
		q := `
		SELECT id, user_id, name, email, phone, favorite, created_at, updated_at
		FROM contacts
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`
		return q, []any{userID, limitPlusOne}
	}

	q := `
		SELECT id, user_id, name, email, phone, favorite, created_at, updated_at
		FROM contacts
		WHERE user_id = $1
		  AND (created_at, id) > ($2, $3)
		ORDER BY created_at ASC, id ASC
		LIMIT $4
	`
	return q, []any{userID, afterCreatedAt, afterID, limitPlusOne}
}

func (repo *ContactsRepo) ListCursor(
	ctx context.Context,
	userID string,
	limit int,
	afterCreatedAt time.Time,
	afterID string,
) (items []contact.Contact, nextCursor *string, hasMore bool, err error) {
	op := "contacts.list_cursor"

	q, args := buildContactsListQuery(userID, limit, afterCreatedAt, afterID)

	var rows pgx.Rows
	err = repo.observe(op, func() error {
		var qerr error
		rows, qerr = repo.pool.Query(ctx, q, args...)
		return qerr
	})
	if err != nil {
		return nil, nil, false, err
	}
	defer rows.Close()

	out := make([]contact.Contact, 0, limit)

	for rows.Next() {
		var c contact.Contact
		if scanErr := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Email, &c.Phone, &c.Favorite, &c.CreatedAt, &c.UpdatedAt); scanErr != nil {
			return nil, nil, false, scanErr
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, nil, false, rows.Err()
	}

	if len(out) > limit {
		hasMore = true
		out = out[:limit]
		last := out[len(out)-1]
		cur, encErr := utils.EncodeContactCursor(last.CreatedAt, last.ID)
		if encErr != nil {
			return nil, nil, false, encErr
		}
		nextCursor = &cur
	}

	return out, nextCursor, hasMore, nil
}

func (repo *ContactsRepo) Update(ctx context.Context, userID, contactID string, req contact.UpdateContactRequest) (updated contact.Contact, err error) {
	var c contact.Contact

	err = repo.observe("contacts.update", func() error {
		return repo.pool.QueryRow(ctx, `
		UPDATE contacts
		SET name = $3, email = $4, phone = $5, favorite = $6, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, name, email, phone, favorite, created_at, updated_at
	`, contactID, userID, req.Name, req.Email, req.Phone, req.Favorite).Scan(
			&c.ID, &c.UserID, &c.Name, &c.Email, &c.Phone, &c.Favorite, &c.CreatedAt, &c.UpdatedAt,
		)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = contact.ErrNotFound
		}
		return
	}

	updated = c
	return
}

func (repo *ContactsRepo) UpdateFavorite(ctx context.Context, userID, contactID string, favorite bool) (updated contact.Contact, err error) {
	var c contact.Contact

	err = repo.observe("contacts.update_favorite", func() error {
		return repo.pool.QueryRow(ctx, `
		UPDATE contacts
		SET favorite = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, name, email, phone, favorite, created_at, updated_at
	`, contactID, userID, favorite).Scan(
			&c.ID, &c.UserID, &c.Name, &c.Email, &c.Phone, &c.Favorite, &c.CreatedAt, &c.UpdatedAt,
		)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = contact.ErrNotFound
		}
		return
	}

	updated = c
	return
}

func (repo *ContactsRepo) Delete(ctx context.Context, userID, contactID string) (err error) {
	var tag pgconn.CommandTag

	err = repo.observe("contacts.delete", func() error {
		var e error
		tag, e = repo.pool.Exec(ctx, `DELETE FROM contacts WHERE id = $1 AND user_id = $2`, contactID, userID)
		return e
	})

	if err != nil {
		return
	}

	if tag.RowsAffected() == 0 {
		err = contact.ErrNotFound
		return
	}

	return
}
