package main

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// CountryStore serves the read-only country listing.
type CountryStore interface {
	// ListCountries returns countries ordered by the given whitelisted
	// column, ascending unless desc is set. Ordering is deterministic:
	// id breaks ties.
	ListCountries(ctx context.Context, orderBy string, desc bool, limit, offset int) ([]*Country, error)
	GetCountryByName(ctx context.Context, name string) (*Country, error)
}

// DB is the full persistence surface, one adapter per deployment.
type DB interface {
	UserStore
	TokenStore
	CountryStore
}

// countrySortFields whitelists what ListCountries may order by.
var countrySortFields = map[string]string{
	"id":       "id",
	"name":     "name",
	"timezone": "timezone",
	"code":     "code",
	"offset":   "utc_offset",
}

// defaultCountries seeds the sqlite and memory adapters; postgres gets
// the same rows from the seed migration.
var defaultCountries = []*Country{
	{Name: "Singapore", Timezone: "Asia/Singapore", Code: "SG", Offset: 8},
	{Name: "Japan", Timezone: "Asia/Tokyo", Code: "JP", Offset: 9},
	{Name: "Australia", Timezone: "Australia/Sydney", Code: "AU", Offset: 10},
	{Name: "United Kingdom", Timezone: "Europe/London", Code: "GB", Offset: 0},
	{Name: "Germany", Timezone: "Europe/Berlin", Code: "DE", Offset: 1},
	{Name: "France", Timezone: "Europe/Paris", Code: "FR", Offset: 1},
	{Name: "Egypt", Timezone: "Africa/Cairo", Code: "EG", Offset: 2},
	{Name: "Kenya", Timezone: "Africa/Nairobi", Code: "KE", Offset: 3},
	{Name: "China", Timezone: "Asia/Shanghai", Code: "CN", Offset: 8},
	{Name: "Brazil", Timezone: "America/Sao_Paulo", Code: "BR", Offset: -3},
}

// Memory DB
type MemDB struct {
	mu        sync.Mutex
	users     map[string]*User
	tokens    map[string]*TokenRecord
	countries []*Country
	seq       int64
}

func NewMemoryDB() *MemDB {
	m := &MemDB{users: map[string]*User{}, tokens: map[string]*TokenRecord{}, seq: 1}
	for _, c := range defaultCountries {
		cc := *c
		cc.ID = m.seq
		m.seq++
		m.countries = append(m.countries, &cc)
	}
	return m
}

func (m *MemDB) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[email]; ok {
		return nil, fmt.Errorf("user %s: %w", email, ErrConflict)
	}
	u := &User{ID: m.seq, Email: email, Password: passwordHash, CreatedAt: time.Now()}
	m.seq++
	m.users[email] = u
	return u, nil
}

func (m *MemDB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[email]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
}

func (m *MemDB) ReplaceActiveToken(ctx context.Context, email string, purpose TokenPurpose, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.Email == email && t.Purpose == purpose {
			t.Revoked = true
		}
	}
	m.tokens[token] = &TokenRecord{ID: m.seq, Email: email, Purpose: purpose, Token: token, CreatedAt: time.Now()}
	m.seq++
	return nil
}

func (m *MemDB) GetToken(ctx context.Context, token string) (*TokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[token]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *MemDB) RevokeToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return ErrNotFound
	}
	t.Revoked = true
	return nil
}

func (m *MemDB) RevokeAllTokens(ctx context.Context, email string, purpose TokenPurpose) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.Email == email && t.Purpose == purpose {
			t.Revoked = true
		}
	}
	return nil
}

func (m *MemDB) ListCountries(ctx context.Context, orderBy string, desc bool, limit, offset int) ([]*Country, error) {
	if _, ok := countrySortFields[orderBy]; !ok {
		return nil, fmt.Errorf("sort field %q: %w", orderBy, ErrInvalidInput)
	}
	m.mu.Lock()
	list := make([]*Country, len(m.countries))
	copy(list, m.countries)
	m.mu.Unlock()

	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if desc {
			a, b = b, a
		}
		switch orderBy {
		case "name":
			if a.Name != b.Name {
				return a.Name < b.Name
			}
		case "timezone":
			if a.Timezone != b.Timezone {
				return a.Timezone < b.Timezone
			}
		case "code":
			if a.Code != b.Code {
				return a.Code < b.Code
			}
		case "offset":
			if a.Offset != b.Offset {
				return a.Offset < b.Offset
			}
		}
		return a.ID < b.ID
	})

	if offset >= len(list) {
		return []*Country{}, nil
	}
	list = list[offset:]
	if limit < len(list) {
		list = list[:limit]
	}
	return list, nil
}

func (m *MemDB) GetCountryByName(ctx context.Context, name string) (*Country, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.countries {
		if c.Name == name {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("country %s: %w", name, ErrNotFound)
}

// SQLite DB
type SQLiteDB struct {
	db   *sql.DB
	path string
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc sqlite is not safe for concurrent writers on one file.
	d.SetMaxOpenConns(1)
	s := &SQLiteDB{db: d, path: path}
	if err := s.init(); err != nil {
		d.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			created_at TEXT DEFAULT (datetime('now')));`,
		`CREATE TABLE IF NOT EXISTS user_tokens (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL,
			purpose TEXT NOT NULL,
			token TEXT UNIQUE NOT NULL,
			revoked INTEGER NOT NULL DEFAULT 0,
			created_at TEXT DEFAULT (datetime('now')));`,
		`CREATE UNIQUE INDEX IF NOT EXISTS user_tokens_live
			ON user_tokens(email, purpose) WHERE revoked = 0;`,
		`CREATE TABLE IF NOT EXISTS countries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			timezone TEXT NOT NULL,
			code TEXT NOT NULL,
			utc_offset INTEGER NOT NULL);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return s.seedCountries()
}

func (s *SQLiteDB) seedCountries() error {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM countries`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for _, c := range defaultCountries {
		if _, err := s.db.Exec(`INSERT INTO countries(name,timezone,code,utc_offset) VALUES(?,?,?,?)`,
			c.Name, c.Timezone, c.Code, c.Offset); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteDB) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO users(email,password) VALUES(?,?)`, email, passwordHash)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("user %s: %w", email, ErrConflict)
		}
		return nil, err
	}
	id, _ := res.LastInsertId()
	return &User{ID: id, Email: email, Password: passwordHash}, nil
}

func (s *SQLiteDB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,email,password,created_at FROM users WHERE email = ?`, email)
	var u User
	var created string
	if err := row.Scan(&u.ID, &u.Email, &u.Password, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
		}
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteDB) ReplaceActiveToken(ctx context.Context, email string, purpose TokenPurpose, token string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE user_tokens SET revoked = 1 WHERE email = ? AND purpose = ? AND revoked = 0`,
		email, purpose); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_tokens(email,purpose,token) VALUES(?,?,?)`,
		email, purpose, token); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteDB) GetToken(ctx context.Context, token string) (*TokenRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,email,purpose,token,revoked,created_at FROM user_tokens WHERE token = ?`, token)
	var t TokenRecord
	var revoked int
	var created string
	if err := row.Scan(&t.ID, &t.Email, &t.Purpose, &t.Token, &revoked, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.Revoked = revoked != 0
	return &t, nil
}

func (s *SQLiteDB) RevokeToken(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_tokens SET revoked = 1 WHERE token = ? AND revoked = 0`, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either unknown or already revoked; only the former is an error.
		var one int
		if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM user_tokens WHERE token = ?`, token).Scan(&one); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return err
		}
	}
	return nil
}

func (s *SQLiteDB) RevokeAllTokens(ctx context.Context, email string, purpose TokenPurpose) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_tokens SET revoked = 1 WHERE email = ? AND purpose = ? AND revoked = 0`, email, purpose)
	return err
}

func (s *SQLiteDB) ListCountries(ctx context.Context, orderBy string, desc bool, limit, offset int) ([]*Country, error) {
	col, ok := countrySortFields[orderBy]
	if !ok {
		return nil, fmt.Errorf("sort field %q: %w", orderBy, ErrInvalidInput)
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	q := fmt.Sprintf(`SELECT id,name,timezone,code,utc_offset FROM countries ORDER BY %s %s, id ASC LIMIT ? OFFSET ?`, col, dir)
	rows, err := s.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCountries(rows)
}

func (s *SQLiteDB) GetCountryByName(ctx context.Context, name string) (*Country, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,name,timezone,code,utc_offset FROM countries WHERE name = ?`, name)
	var c Country
	if err := row.Scan(&c.ID, &c.Name, &c.Timezone, &c.Code, &c.Offset); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("country %s: %w", name, ErrNotFound)
		}
		return nil, err
	}
	return &c, nil
}

func scanCountries(rows *sql.Rows) ([]*Country, error) {
	list := []*Country{}
	for rows.Next() {
		var c Country
		if err := rows.Scan(&c.ID, &c.Name, &c.Timezone, &c.Code, &c.Offset); err != nil {
			return nil, err
		}
		list = append(list, &c)
	}
	return list, rows.Err()
}

// lifecycle helpers
func (m *MemDB) close() error { return nil }
func (m *MemDB) ping() bool   { return true }

func (s *SQLiteDB) close() error { return s.db.Close() }
func (s *SQLiteDB) ping() bool   { return s.db.Ping() == nil }
