package gatewaytest

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

var (
	errTokenMalformed    = errors.New("token malformed")
	errTokenBadSignature = errors.New("token bad signature")
	errTokenExpired      = errors.New("token expired")
	errTokenRevoked      = errors.New("token revoked")
)

type jwtHeader struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
}

// accessClaims is the payload of an access token. Generation ties a token
// to the gateway's current generation so tests can expire every
// outstanding token at once.
type accessClaims struct {
	Issuer     string   `json:"iss"`
	Subject    string   `json:"sub"`
	IssuedAt   int64    `json:"iat"`
	Expiration int64    `json:"exp"`
	Roles      []string `json:"roles"`
	Generation int      `json:"gen"`
}

func issueAccessToken(key *ecdsa.PrivateKey, claims accessClaims) (string, error) {
	encHeader, err := encodeSection(jwtHeader{Algorithm: "ES256", Type: "JWT"})
	if err != nil {
		return "", fmt.Errorf("failed to encode header: %v", err)
	}
	encClaims, err := encodeSection(claims)
	if err != nil {
		return "", fmt.Errorf("failed to encode claims: %v", err)
	}

	message := encHeader + "." + encClaims
	r, s, err := ecdsa.Sign(rand.Reader, key, hashMessage(message))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %v", err)
	}
	return message + "." + encodeSignature(r, s), nil
}

// parseAccessToken checks structure, signature, expiry and generation.
func parseAccessToken(
	key *ecdsa.PublicKey,
	token string,
	now time.Time,
	generation int,
) (*accessClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected three parts, found %d", errTokenMalformed, len(parts))
	}

	header := jwtHeader{}
	if err := decodeSection(parts[0], &header); err != nil {
		return nil, fmt.Errorf("%w: %v", errTokenMalformed, err)
	}
	if header.Algorithm != "ES256" || header.Type != "JWT" {
		return nil, fmt.Errorf("%w: illegal header %s/%s", errTokenBadSignature, header.Type, header.Algorithm)
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || len(signature) != 64 {
		return nil, fmt.Errorf("%w: undecodable signature", errTokenBadSignature)
	}
	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:])
	if !ecdsa.Verify(key, hashMessage(parts[0]+"."+parts[1]), r, s) {
		return nil, errTokenBadSignature
	}

	claims := accessClaims{}
	if err := decodeSection(parts[1], &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", errTokenMalformed, err)
	}
	if now.Unix() >= claims.Expiration {
		return nil, errTokenExpired
	}
	if claims.Generation != generation {
		return nil, errTokenRevoked
	}
	return &claims, nil
}

func hashMessage(message string) []byte {
	hash := sha256.Sum256([]byte(message))
	return hash[:]
}

// encodeSignature writes r and s right-aligned into 32 bytes each.
func encodeSignature(r *big.Int, s *big.Int) string {
	signature := make([]byte, 64)
	r.FillBytes(signature[:32])
	s.FillBytes(signature[32:])
	return base64.RawURLEncoding.EncodeToString(signature)
}

func encodeSection(section any) (string, error) {
	sectionJSON, err := json.Marshal(section)
	if err != nil {
		return "", fmt.Errorf("json marshal failure: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(sectionJSON), nil
}

func decodeSection(str string, value any) error {
	bytes, err := base64.RawURLEncoding.DecodeString(str)
	if err != nil {
		return fmt.Errorf("invalid base64 encoding: %v", err)
	}
	if err := json.Unmarshal(bytes, value); err != nil {
		return fmt.Errorf("not valid JSON: %v", err)
	}
	return nil
}
