package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

type PostgresDB struct {
	db  *sql.DB
	dsn string
}

func NewPostgresDB(dsn string) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// tables come from migrations; just verify connectivity
	if err := d.Ping(); err != nil {
		d.Close()
		return nil, err
	}
	return &PostgresDB{db: d, dsn: dsn}, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

func (p *PostgresDB) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	var id int64
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO users(email,password) VALUES($1,$2) RETURNING id`,
		email, passwordHash).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("user %s: %w", email, ErrConflict)
		}
		return nil, err
	}
	return &User{ID: id, Email: email, Password: passwordHash}, nil
}

func (p *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id,email,password,created_at FROM users WHERE email = $1`, email)
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Password, &u.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
		}
		return nil, err
	}
	return &u, nil
}

// ReplaceActiveToken revokes the live records for (email, purpose) and
// inserts the new one in a single transaction. Under READ COMMITTED two
// racing transactions can both pass the UPDATE; the partial unique
// index on live tokens rejects the loser, which retries once and
// revokes the winner's row.
func (p *PostgresDB) ReplaceActiveToken(ctx context.Context, email string, purpose TokenPurpose, token string) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = p.replaceActiveToken(ctx, email, purpose, token)
		if err == nil || !isUniqueViolation(err) {
			return err
		}
	}
	return err
}

func (p *PostgresDB) replaceActiveToken(ctx context.Context, email string, purpose TokenPurpose, token string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE user_tokens SET revoked = true WHERE email = $1 AND purpose = $2 AND NOT revoked`,
		email, purpose); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_tokens(email,purpose,token) VALUES($1,$2,$3)`,
		email, purpose, token); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresDB) GetToken(ctx context.Context, token string) (*TokenRecord, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id,email,purpose,token,revoked,created_at FROM user_tokens WHERE token = $1`, token)
	var t TokenRecord
	if err := row.Scan(&t.ID, &t.Email, &t.Purpose, &t.Token, &t.Revoked, &t.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (p *PostgresDB) RevokeToken(ctx context.Context, token string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE user_tokens SET revoked = true WHERE token = $1 AND NOT revoked`, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var one int
		if err := p.db.QueryRowContext(ctx, `SELECT 1 FROM user_tokens WHERE token = $1`, token).Scan(&one); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return err
		}
	}
	return nil
}

func (p *PostgresDB) RevokeAllTokens(ctx context.Context, email string, purpose TokenPurpose) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE user_tokens SET revoked = true WHERE email = $1 AND purpose = $2 AND NOT revoked`,
		email, purpose)
	return err
}

func (p *PostgresDB) ListCountries(ctx context.Context, orderBy string, desc bool, limit, offset int) ([]*Country, error) {
	col, ok := countrySortFields[orderBy]
	if !ok {
		return nil, fmt.Errorf("sort field %q: %w", orderBy, ErrInvalidInput)
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	q := fmt.Sprintf(`SELECT id,name,timezone,code,utc_offset FROM countries ORDER BY %s %s, id ASC LIMIT $1 OFFSET $2`, col, dir)
	rows, err := p.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCountries(rows)
}

func (p *PostgresDB) GetCountryByName(ctx context.Context, name string) (*Country, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id,name,timezone,code,utc_offset FROM countries WHERE name = $1`, name)
	var c Country
	if err := row.Scan(&c.ID, &c.Name, &c.Timezone, &c.Code, &c.Offset); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("country %s: %w", name, ErrNotFound)
		}
		return nil, err
	}
	return &c, nil
}

func (p *PostgresDB) close() error { return p.db.Close() }
func (p *PostgresDB) ping() bool   { return p.db.Ping() == nil }
