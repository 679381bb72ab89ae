// Package claims reads the claim set out of an access token for display.
//
// Nothing here verifies a signature or checks an expiry. Whether a token is
// still good is decided by the gateway alone; these claims are advisory.
package claims

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Claims is the decoded payload of an access token.
type Claims struct {
	Subject    string
	Issuer     string
	IssuedAt   time.Time
	Expiration time.Time
	Roles      []string
	Raw        map[string]any
}

type payload struct {
	Subject    string   `json:"sub"`
	Issuer     string   `json:"iss"`
	IssuedAt   *float64 `json:"iat"`
	Expiration *float64 `json:"exp"`
	Roles      []string `json:"roles"`
}

// Decode parses the middle section of a three-part token. It returns false
// for anything it cannot read, and never panics.
func Decode(token string) (*Claims, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, false
	}

	bytes, err := decodeSection(parts[1])
	if err != nil {
		return nil, false
	}

	raw := map[string]any{}
	if err := json.Unmarshal(bytes, &raw); err != nil || raw == nil {
		return nil, false
	}

	// typed fields are best effort; a "roles" of the wrong shape is dropped
	p := payload{}
	if err := json.Unmarshal(bytes, &p); err != nil {
		p = payload{}
		if s, ok := raw["sub"].(string); ok {
			p.Subject = s
		}
		if s, ok := raw["iss"].(string); ok {
			p.Issuer = s
		}
		if f, ok := raw["iat"].(float64); ok {
			p.IssuedAt = &f
		}
		if f, ok := raw["exp"].(float64); ok {
			p.Expiration = &f
		}
	}

	c := &Claims{
		Subject: p.Subject,
		Issuer:  p.Issuer,
		Roles:   p.Roles,
		Raw:     raw,
	}
	if p.IssuedAt != nil {
		c.IssuedAt = time.Unix(int64(*p.IssuedAt), 0)
	}
	if p.Expiration != nil {
		c.Expiration = time.Unix(int64(*p.Expiration), 0)
	}
	return c, true
}

// Summary renders the "sub: ..., exp: ..." line shown for the current token.
func Summary(token string) string {
	c, ok := Decode(token)
	if !ok {
		return "sub: -, exp: -"
	}

	sub := c.Subject
	if sub == "" {
		sub = "-"
	}
	exp := "-"
	if !c.Expiration.IsZero() {
		exp = c.Expiration.Local().Format(time.DateTime)
	}
	return fmt.Sprintf("sub: %s, exp: %s", sub, exp)
}

// decodeSection accepts both the URL-safe and standard alphabets, with or
// without padding.
func decodeSection(section string) ([]byte, error) {
	s := strings.NewReplacer("-", "+", "_", "/").Replace(section)
	s = strings.TrimRight(s, "=")
	bytes, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %v", err)
	}
	return bytes, nil
}
