package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Realm identifies the JWT authentication realm.
type Realm string

const (
	RealmStudent   Realm = "student"
	RealmAdmin     Realm = "admin"
	RealmAffiliate Realm = "affiliate"
)

// Issuer is stamped on every token and required on validation.
const Issuer = "learnly"

// Claims holds the custom JWT claims for all 3 realms.
type Claims struct {
	jwt.RegisteredClaims
	Realm  Realm  `json:"realm"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`   // admin realm: viewer, admin, superadmin
	Status string `json:"status,omitempty"` // affiliate realm: active, suspended
}

// SubjectID parses the subject as a UUID.
func (c *Claims) SubjectID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("token subject is not a uuid: %w", err)
	}
	return id, nil
}

// TokenOptions carries the optional realm-specific claims.
type TokenOptions struct {
	Email  string
	Role   string
	Status string
}

// JWTManager handles token generation and validation for all 3 realms.
type JWTManager struct {
	secret []byte
	expiry map[Realm]time.Duration
	now    func() time.Time
}

// NewJWTManager creates a JWT manager with realm-specific expiry durations.
func NewJWTManager(secret string, studentExpiry, adminExpiry, affiliateExpiry time.Duration) *JWTManager {
	return &JWTManager{
		secret: []byte(secret),
		expiry: map[Realm]time.Duration{
			RealmStudent:   studentExpiry,
			RealmAdmin:     adminExpiry,
			RealmAffiliate: affiliateExpiry,
		},
		now: time.Now,
	}
}

// GenerateToken creates a signed HS256 token for the given realm and subject.
func (m *JWTManager) GenerateToken(realm Realm, subjectID uuid.UUID, opts TokenOptions) (string, error) {
	expiry, ok := m.expiry[realm]
	if !ok {
		return "", fmt.Errorf("unknown realm: %s", realm)
	}

	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subjectID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			ID:        uuid.New().String(),
		},
		Realm:  realm,
		Email:  opts.Email,
		Role:   opts.Role,
		Status: opts.Status,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken parses and validates a JWT, returning claims if valid.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// ValidateTokenForRealm validates a token and ensures it belongs to the expected realm.
func (m *JWTManager) ValidateTokenForRealm(tokenString string, expectedRealm Realm) (*Claims, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Realm != expectedRealm {
		return nil, fmt.Errorf("expected realm %s, got %s", expectedRealm, claims.Realm)
	}
	if _, err := claims.SubjectID(); err != nil {
		return nil, err
	}
	return claims, nil
}
