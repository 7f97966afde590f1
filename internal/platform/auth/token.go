package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "curafile"

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("invalid token")
)

func init() {
	// Issued-at is compared against revocation timestamps at millisecond
	// resolution.
	jwt.TimePrecision = time.Millisecond
}

// Claims is the session token payload.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// IdentityID parses the subject claim.
func (c *Claims) IdentityID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// Signer issues and verifies HS256 session tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// TTL is the lifetime given to newly issued tokens.
func (s *Signer) TTL() time.Duration { return s.ttl }

// Issue signs a token for identityID acting as role.
func (s *Signer) Issue(identityID uuid.UUID, email string, role Role) (string, *Claims, error) {
	if !role.Valid() {
		return "", nil, fmt.Errorf("issue token: unknown role %q", role)
	}
	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   identityID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Email: email,
		Role:  role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify checks signature, issuer and expiry. Tokens older than the TTL
// currently configured are treated as expired even if their own exp claim
// is later, so shortening JWT_TTL takes effect for tokens already issued.
func (s *Signer) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims.normalize()
	if !token.Valid || claims.IssuedAt == nil || claims.Subject == "" || !claims.Role.Valid() {
		return nil, ErrTokenInvalid
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, ErrTokenInvalid
	}
	if s.now().Sub(claims.IssuedAt.Time) > s.ttl {
		return nil, ErrTokenExpired
	}
	return claims, nil
}

// DecodeUnverified reads the claims without checking the signature. Callers
// must have verified the token already.
func DecodeUnverified(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if claims.Subject == "" || claims.IssuedAt == nil {
		return nil, fmt.Errorf("decode token: missing sub or iat")
	}
	claims.normalize()
	return claims, nil
}

// normalize undoes the float rounding of NumericDate decoding, which can put
// a millisecond timestamp just below its issued value.
func (c *Claims) normalize() {
	if c.IssuedAt != nil {
		c.IssuedAt = jwt.NewNumericDate(c.IssuedAt.Time.Round(jwt.TimePrecision))
	}
	if c.ExpiresAt != nil {
		c.ExpiresAt = jwt.NewNumericDate(c.ExpiresAt.Time.Round(jwt.TimePrecision))
	}
}
