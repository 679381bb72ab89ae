package credentials

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists access tokens across process restarts, one slot per
// gateway origin.
type SQLiteStore struct {
	db *sql.DB
}

// OriginStore is the Store for a single origin inside a SQLiteStore.
type OriginStore struct {
	db     *sql.DB
	origin string
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential database: %v", err)
	}

	// a single connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init credential database: %v", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// For returns the Store scoped to the origin of gatewayURL.
func (s *SQLiteStore) For(gatewayURL string) (*OriginStore, error) {
	origin, err := Origin(gatewayURL)
	if err != nil {
		return nil, err
	}
	return &OriginStore{db: s.db, origin: origin}, nil
}

// Origin reduces a URL to its scheme://host[:port] form.
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid gateway url %q: %v", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid gateway url %q: scheme and host required", rawURL)
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), nil
}

func (s *OriginStore) Origin() string {
	return s.origin
}

func (s *OriginStore) Get() (string, error) {
	row := s.db.QueryRow(`
		SELECT token
		FROM credential
		WHERE origin=?1;`,
		s.origin,
	)

	var token string
	err := row.Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("couldn't scan credential: %v", err)
	}
	return token, nil
}

func (s *OriginStore) Set(token string) error {
	_, err := s.db.Exec(`
		INSERT INTO credential (origin, token)
		VALUES (?1, ?2)
		ON CONFLICT (origin) DO UPDATE SET token=excluded.token;`,
		s.origin,
		token,
	)
	if err != nil {
		return fmt.Errorf("couldn't write credential: %v", err)
	}
	return nil
}

func (s *OriginStore) Clear() error {
	return s.Set("")
}

func initSchema(db *sql.DB) error {
	if err := initTable(db, "credential", `
		CREATE TABLE IF NOT EXISTS credential (
			origin      TEXT PRIMARY KEY,
			token       TEXT NOT NULL
		);`,
	); err != nil {
		return err
	}
	return initTable(db, "cookie", `
		CREATE TABLE IF NOT EXISTS cookie (
			origin      TEXT NOT NULL,
			name        TEXT NOT NULL,
			path        TEXT NOT NULL,
			value       TEXT NOT NULL,
			expires     INTEGER NOT NULL,
			secure      INTEGER NOT NULL,
			PRIMARY KEY (origin, name, path)
		);`,
	)
}

func initTable(
	db *sql.DB,
	name string,
	sql string,
) error {
	if _, err := db.Exec(sql); err != nil {
		return fmt.Errorf("failed to init '%s' table schema: %v", name, err)
	}
	return nil
}
