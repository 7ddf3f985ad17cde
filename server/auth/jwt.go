package auth

import (
	"fmt"
	"time"

	"github.com/Mmx233/ChatRelay/protocol"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the JWT claims carried by ChatRelay tokens.
type Claims struct {
	User Subject `json:"user"`
	Kind Kind    `json:"typ"`
	jwt.RegisteredClaims
}

// JWT signs tokens with HMAC-SHA256.
type JWT struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

var _ TokenService = (*JWT)(nil)

// NewJWT creates a token service. The secret is copied.
func NewJWT(secret []byte, issuer string, accessTTL, refreshTTL time.Duration) *JWT {
	return &JWT{
		secret:     append([]byte(nil), secret...),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// Issue mints an access and refresh token pair for subject.
func (j *JWT) Issue(subject Subject) (protocol.Tokens, error) {
	access, err := j.sign(subject, KindAccess, j.accessTTL)
	if err != nil {
		return protocol.Tokens{}, err
	}
	refresh, err := j.sign(subject, KindRefresh, j.refreshTTL)
	if err != nil {
		return protocol.Tokens{}, err
	}
	return protocol.Tokens{AccessToken: access, RefreshToken: refresh}, nil
}

// IssueAccess mints a fresh access token only.
func (j *JWT) IssueAccess(subject Subject) (string, error) {
	return j.sign(subject, KindAccess, j.accessTTL)
}

// Verify checks the signature, expiry, issuer and kind of token.
func (j *JWT) Verify(token string, kind Kind) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.secret, nil
	},
		jwt.WithIssuer(j.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrWrongKind, kind, claims.Kind)
	}
	return claims, nil
}

func (j *JWT) sign(subject Subject, kind Kind, ttl time.Duration) (string, error) {
	now := j.now()
	claims := Claims{
		User: subject,
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    j.issuer,
			Subject:   subject.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}
