// README: JWT verification for HTTP and websocket callers.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"carpool/internal/types"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidRole  = errors.New("role not allowed")
)

// allowedRoles is the full set of roles that may hold a session at all.
var allowedRoles = map[types.Role]bool{
	types.RolePassenger: true,
	types.RoleDriver:    true,
	types.RoleAdmin:     true,
}

type Claims struct {
	UserID string `json:"sub"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the authenticated (userId, role) pair the credential service vouches for.
type Identity struct {
	UserID types.ID
	Role   types.Role
}

type Manager struct {
	secret []byte
}

func NewManager(secret string) *Manager {
	return &Manager{secret: []byte(secret)}
}

// Issue mints a short-lived token. The real credential service owns issuance;
// this is used by tooling and tests.
func (m *Manager) Issue(userID types.ID, role types.Role, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID: string(userID),
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify parses the token and returns the identity it carries.
// Unknown roles are rejected here so no later layer has to re-check.
func (m *Manager) Verify(token string) (Identity, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid || claims.UserID == "" {
		return Identity{}, ErrInvalidToken
	}
	role := types.Role(claims.Role)
	if !allowedRoles[role] {
		return Identity{}, ErrInvalidRole
	}
	return Identity{UserID: types.ID(claims.UserID), Role: role}, nil
}
