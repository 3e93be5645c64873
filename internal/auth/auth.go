// Package auth resolves bearer credentials into principals: admin and
// internal tokens are opaque pre-shared strings compared in constant time;
// user and livestream tokens are HS256 JWTs carrying the quotas spec.md §6
// names in their claims.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arung-agamani/denpa-relay/internal/apperr"
)

// tokenTypeUser and tokenTypeLivestream tag which claim shape a token was
// issued with, since both carry a user_id field and a signature alone
// can't tell them apart.
const (
	tokenTypeUser       = "user"
	tokenTypeLivestream = "livestream"
)

// UserClaims is the claim set a user JWT carries: spec.md §6, "claims
// include user_id, max_queue_songs, max_add_requests."
type UserClaims struct {
	TokenType      string `json:"token_type"`
	UserID         string `json:"user_id"`
	MaxQueueSongs  int    `json:"max_queue_songs"`
	MaxAddRequests int    `json:"max_add_requests"`
	jwt.RegisteredClaims
}

// LivestreamClaims is the claim set a livestream JWT carries: spec.md §6,
// "claims include user_id, max_streaming_seconds, show_name?,
// min_recording_duration."
type LivestreamClaims struct {
	TokenType            string `json:"token_type"`
	UserID               string `json:"user_id"`
	MaxStreamingSeconds  int    `json:"max_streaming_seconds"`
	ShowName             string `json:"show_name,omitempty"`
	MinRecordingDuration int    `json:"min_recording_duration"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies user/livestream tokens with a single shared
// HS256 secret.
type Issuer struct {
	secret []byte
}

// NewIssuer builds an Issuer from a configured secret string.
func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret)}
}

// MinTokenTTL is the floor spec.md §3 places on a principal's token
// lifetime relative to the operational limit it bounds: "expiration is ≥
// 2x the operational limit it bounds."
func MinTokenTTL(operationalLimitSeconds int) time.Duration {
	return 2 * time.Duration(operationalLimitSeconds) * time.Second
}

// IssueUserToken signs a user token valid for ttl (caller picks ttl,
// typically via MinTokenTTL against some deployment-chosen session length
// since a user principal has no single bounding operational limit).
func (iss *Issuer) IssueUserToken(userID string, maxQueueSongs, maxAddRequests int, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := UserClaims{
		TokenType:      tokenTypeUser,
		UserID:         userID,
		MaxQueueSongs:  maxQueueSongs,
		MaxAddRequests: maxAddRequests,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(iss.secret)
}

// IssueLivestreamToken signs a livestream token. ttl should be at least
// MinTokenTTL(maxStreamingSeconds) per spec.md §3.
func (iss *Issuer) IssueLivestreamToken(userID string, maxStreamingSeconds int, showName string, minRecordingDuration int, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := LivestreamClaims{
		TokenType:            tokenTypeLivestream,
		UserID:               userID,
		MaxStreamingSeconds:  maxStreamingSeconds,
		ShowName:             showName,
		MinRecordingDuration: minRecordingDuration,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(iss.secret)
}

func (iss *Issuer) keyFunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return iss.secret, nil
}

// ParseUserToken verifies and decodes a user JWT. Fails closed if the token
// was issued as a livestream token (same secret, different token_type).
func (iss *Issuer) ParseUserToken(tokenStr string) (*UserClaims, error) {
	claims := &UserClaims{}
	tok, err := jwt.ParseWithClaims(tokenStr, claims, iss.keyFunc)
	if err != nil || !tok.Valid || claims.TokenType != tokenTypeUser {
		return nil, apperr.New(apperr.KindUnauthenticated, "invalid or expired token")
	}
	return claims, nil
}

// ParseLivestreamToken verifies and decodes a livestream JWT. Fails closed
// if the token was issued as a user token.
func (iss *Issuer) ParseLivestreamToken(tokenStr string) (*LivestreamClaims, error) {
	claims := &LivestreamClaims{}
	tok, err := jwt.ParseWithClaims(tokenStr, claims, iss.keyFunc)
	if err != nil || !tok.Valid || claims.TokenType != tokenTypeLivestream {
		return nil, apperr.New(apperr.KindUnauthenticated, "invalid or expired token")
	}
	return claims, nil
}

// IsAdminToken reports whether token constant-time-matches one of the
// configured admin tokens.
func IsAdminToken(token string, configured []string) bool {
	for _, c := range configured {
		if constantTimeEqual(token, c) {
			return true
		}
	}
	return false
}

// IsInternalToken reports whether token constant-time-matches the
// configured internal service token.
func IsInternalToken(token, configured string) bool {
	if configured == "" {
		return false
	}
	return constantTimeEqual(token, configured)
}

// constantTimeEqual compares two strings without leaking timing
// information about a partial match, hashing both sides first so the
// comparison cost doesn't vary with how much of a prefix matches or with
// either string's length. Grounded on the teacher's hmacEqualStrings.
func constantTimeEqual(a, b string) bool {
	h1 := sha256.Sum256([]byte(a))
	h2 := sha256.Sum256([]byte(b))
	return hmac.Equal(h1[:], h2[:])
}

// ExtractBearerToken pulls the token out of an Authorization header value
// ("Bearer <token>"), trimming surrounding whitespace.
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", apperr.New(apperr.KindUnauthenticated, "missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", apperr.New(apperr.KindUnauthenticated, "expected bearer scheme")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", apperr.New(apperr.KindUnauthenticated, "missing bearer token")
	}
	return token, nil
}
