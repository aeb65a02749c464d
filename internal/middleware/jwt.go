// internal/middleware/jwt.go
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token expiration time - 24 hours
const tokenExpiration = 24 * time.Hour

// jwtSecret is set at startup from configuration
var jwtSecret []byte

// SetSecret installs the signing key loaded from configuration.
// Must be called before any token is generated or validated.
func SetSecret(secret string) {
	jwtSecret = []byte(secret)
}

// Claims represents the JWT claims for our application
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	jwt.RegisteredClaims
}

// UnprotectedRoutes defines routes that don't require JWT authentication
var UnprotectedRoutes = map[string]bool{
	"/health": true,
}

// GenerateToken creates a new JWT token for the given user ID
func GenerateToken(userID uuid.UUID) (string, error) {
	expirationTime := time.Now().Add(tokenExpiration)

	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "tradepost-api",
			Subject:   userID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(jwtSecret)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ValidateToken validates the provided JWT token
func ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return jwtSecret, nil
		},
	)

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// ApplyJWTMiddleware wraps a handler function with JWT authentication
func ApplyJWTMiddleware(handler http.HandlerFunc, path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if UnprotectedRoutes[path] {
			handler(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		claims, err := ValidateToken(tokenString)
		if err != nil {
			log.Printf("JWT Error: %v", err)
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		if time.Now().After(claims.ExpiresAt.Time) {
			http.Error(w, "Token expired", http.StatusUnauthorized)
			return
		}

		ctx := r.Context()
		ctx = SetUserIDInContext(ctx, claims.UserID)

		handler(w, r.WithContext(ctx))
	}
}

// Define a custom context key type to avoid collisions
type contextKey string

// UserIDKey is the key used to store the user ID in the context
const UserIDKey contextKey = "user_id"

// SetUserIDInContext saves the user ID in the request context
func SetUserIDInContext(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserIDFromContext retrieves the user ID from the context
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return userID, ok
}
