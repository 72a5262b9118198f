package auth

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims extends the registered JWT claims with the tenant and role
// fields the API layer needs for scoping and authorization.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"user_role"`
	jwt.RegisteredClaims
}

var (
	// STRICT: Enforce 32-byte secret length at startup.
	jwtSecret []byte
	issuer    = "opsforge"
	audience  = "opsforge-api"
)

func init() {
	secretEnv := os.Getenv("JWT_SECRET")
	if len(secretEnv) < 32 {
		// STRICT: Panic if secret is weak or missing to prevent insecure startup.
		// User must provide JWT_SECRET.
		if secretEnv == "" {
			fmt.Println("WARNING: JWT_SECRET not set. Using insecure default for blocked network dev ONLY.")
			jwtSecret = []byte("insecure_default_secret_for_dev_mode_only_32bytes")
		} else {
			panic("CRITICAL SECURITY ERROR: JWT_SECRET must be at least 32 characters long.")
		}
	} else {
		jwtSecret = []byte(secretEnv)
	}
}

// GenerateToken creates a signed HS256 token for the given tenant, user and role.
func GenerateToken(tenantID, userID, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID: tenantID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// ValidateToken parses and validates the JWT string.
// STRICT: Only HS256 is accepted, and issuer/audience/expiry are all checked.
func ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			return jwtSecret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}
	if claims.TenantID == "" {
		return nil, fmt.Errorf("token missing tenant_id claim")
	}
	return claims, nil
}
