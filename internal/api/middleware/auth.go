package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"loan-underwriting/internal/config"
	"loan-underwriting/internal/domain/identity"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	errMissingHeader = errors.New("missing Authorization header")
	errHeaderFormat  = errors.New("invalid Authorization header format")
	errBadSubject    = errors.New("subject claim is not a user id")
	errMissingRole   = errors.New("role claim is missing")
)

// Claims is the token body issued by the identity provider.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthMiddleware verifies an HS256 bearer token and attaches the caller's
// identity to the request context. Every request it wraps must authenticate.
func AuthMiddleware(cfg config.AuthConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "AuthMiddleware")
	secret := []byte(cfg.JWTSecret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := authenticate(r, secret)
			if err != nil {
				logger.WarnContext(r.Context(), "Rejected unauthenticated request",
					"path", r.URL.Path, slog.Any("error", err))
				writeJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid bearer token")
				return
			}
			logger.DebugContext(r.Context(), "Authenticated request",
				"userID", caller.UserID.String(), "role", string(caller.Role))
			next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), caller)))
		})
	}
}

func authenticate(r *http.Request, secret []byte) (identity.Identity, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return identity.Identity{}, errMissingHeader
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return identity.Identity{}, errHeaderFormat
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(parts[1], &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return identity.Identity{}, fmt.Errorf("invalid token: %w", err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return identity.Identity{}, errBadSubject
	}
	if strings.TrimSpace(claims.Role) == "" {
		return identity.Identity{}, errMissingRole
	}

	return identity.Identity{UserID: userID, Role: identity.ParseRole(claims.Role)}, nil
}
