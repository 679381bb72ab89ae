package credentials

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// NewCookieJar returns an in-memory jar with public suffix rules.
func NewCookieJar() (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %v", err)
	}
	return jar, nil
}

var _ http.CookieJar = (*Jar)(nil)

// Jar is a cookie jar for one gateway origin whose cookies outlive the
// process. Each cookie is kept under its name and path along with its expiry
// and secure flag, and is restored as a host-only cookie for the origin.
type Jar struct {
	mu     sync.Mutex
	jar    *cookiejar.Jar
	db     *sql.DB
	origin string
	base   *url.URL
	now    func() time.Time
}

// Jar opens the persistent cookie jar for the origin of gatewayURL.
func (s *SQLiteStore) Jar(gatewayURL string) (*Jar, error) {
	origin, err := Origin(gatewayURL)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(origin + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid origin %q: %v", origin, err)
	}
	jar, err := NewCookieJar()
	if err != nil {
		return nil, err
	}

	j := &Jar{jar: jar, db: s.db, origin: origin, base: base, now: time.Now}
	if err := j.load(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	return j.jar.Cookies(u)
}

// SetCookies updates the jar and writes the cookies set for this origin to
// the database. A failed write is logged; the in-memory jar stays
// authoritative for this process.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.jar.SetCookies(u, cookies)
	if origin, err := Origin(u.String()); err != nil || origin != j.origin {
		return
	}
	if err := j.save(u, cookies); err != nil {
		log.Printf("cookie jar: %v\n", err)
	}
}

func (j *Jar) load() error {
	rows, err := j.db.Query(`
		SELECT name, path, value, expires, secure
		FROM cookie
		WHERE origin=?1;`,
		j.origin,
	)
	if err != nil {
		return fmt.Errorf("couldn't query cookies: %v", err)
	}
	defer rows.Close()

	now := j.now()
	var cookies []*http.Cookie
	for rows.Next() {
		var (
			c       http.Cookie
			expires int64
		)
		if err := rows.Scan(&c.Name, &c.Path, &c.Value, &expires, &c.Secure); err != nil {
			return fmt.Errorf("couldn't scan cookie: %v", err)
		}
		if expires != 0 {
			c.Expires = time.Unix(expires, 0)
			if !c.Expires.After(now) {
				continue
			}
		}
		cookies = append(cookies, &c)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("couldn't read cookies: %v", err)
	}

	j.jar.SetCookies(j.base, cookies)
	return nil
}

func (j *Jar) save(u *url.URL, cookies []*http.Cookie) error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("couldn't begin cookie write: %v", err)
	}
	defer tx.Rollback()

	now := j.now()
	for _, c := range cookies {
		path := cookiePath(u, c)
		expires, keep := cookieExpiry(c, now)
		if !keep {
			if _, err := tx.Exec(`
				DELETE FROM cookie
				WHERE origin=?1 AND name=?2 AND path=?3;`,
				j.origin,
				c.Name,
				path,
			); err != nil {
				return fmt.Errorf("couldn't delete cookie: %v", err)
			}
			continue
		}
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO cookie (origin, name, path, value, expires, secure)
			VALUES (?1, ?2, ?3, ?4, ?5, ?6);`,
			j.origin,
			c.Name,
			path,
			c.Value,
			expires,
			c.Secure,
		); err != nil {
			return fmt.Errorf("couldn't write cookie: %v", err)
		}
	}

	// drop anything that expired while stored
	if _, err := tx.Exec(`
		DELETE FROM cookie
		WHERE origin=?1 AND expires!=0 AND expires<=?2;`,
		j.origin,
		now.Unix(),
	); err != nil {
		return fmt.Errorf("couldn't prune cookies: %v", err)
	}
	return tx.Commit()
}

// cookiePath is the path the jar files c under when set from u.
func cookiePath(u *url.URL, c *http.Cookie) string {
	if c.Path != "" && c.Path[0] == '/' {
		return c.Path
	}
	p := u.Path
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}

// cookieExpiry reports the unix expiry to store for c, zero for a session
// cookie, and whether c should be kept at all.
func cookieExpiry(c *http.Cookie, now time.Time) (int64, bool) {
	switch {
	case c.MaxAge < 0:
		return 0, false
	case c.MaxAge > 0:
		return now.Add(time.Duration(c.MaxAge) * time.Second).Unix(), true
	case !c.Expires.IsZero():
		if !c.Expires.After(now) {
			return 0, false
		}
		return c.Expires.Unix(), true
	default:
		return 0, true
	}
}
