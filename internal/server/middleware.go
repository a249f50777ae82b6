package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// memberIDKey is the echo context key holding the authenticated member id.
const memberIDKey = "member_id"

// memberTokenTTL is deliberately long: a guest's token should outlive a
// typical listening session by a wide margin so rejoining stays seamless.
const memberTokenTTL = 30 * 24 * time.Hour

// memberClaims binds a member identity to a single session passcode.
type memberClaims struct {
	Passcode string `json:"pass"`
	jwt.RegisteredClaims
}

// IssueToken signs a member token scoped to the session passcode.
func IssueToken(secret, passcode, memberID string) (string, error) {
	now := time.Now()
	claims := memberClaims{
		Passcode: passcode,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   memberID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(memberTokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// memberAuth validates the bearer token and requires its session binding to
// match the :passcode route parameter. The member id lands in the request
// context under memberIDKey.
func memberAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			claims := &memberClaims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
				if t.Method != jwt.SigningMethodHS256 {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims.Passcode != c.Param("passcode") {
				return echo.NewHTTPError(http.StatusForbidden, "token is bound to a different session")
			}

			c.Set(memberIDKey, claims.Subject)
			return next(c)
		}
	}
}

func memberID(c echo.Context) string {
	id, _ := c.Get(memberIDKey).(string)
	return id
}
