// Identity middleware resolves which user opens a session.
// Tidewatch doesn't own authentication, it only verifies JWTs issued elsewhere.

package auth

import (
	"Tidewatch/internal/errors"
	"Tidewatch/pkg/log"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

// Claim carrying the user id inside tokens.
const userIDClaim = "user_id"

// IdentityMiddleware verifies the HS256 JWT sent via the Authorization header or the token
// query parameter (browsers can't set headers on websocket upgrades) and sets "UserID".
// With allowInsecure a bare user_id query parameter is trusted instead, meant for DEV only.
// Blocks the request to go further into other handlers if the caller can't be identified.
func IdentityMiddleware(secret string, allowInsecure bool, logger log.Logger) gin.HandlerFunc {
	logger = logger.With("identity")
	return func(gctx *gin.Context) {
		token := fetchToken(gctx)
		if token == "" {
			if userID := gctx.Query("user_id"); allowInsecure && userID != "" {
				// Set UserID in request's context
				gctx.Set("UserID", userID)
				gctx.Next()
				return
			}
			gctx.AbortWithStatusJSON(http.StatusUnauthorized, errors.Unauthorized(""))
			return
		}

		userID, err := parseUserID(token, secret)
		if err != nil {
			logger.WithCtx(gctx).Debug().Err(err).Msg("Rejected identity token.")
			gctx.AbortWithStatusJSON(http.StatusUnauthorized, errors.Unauthorized(""))
			return
		}
		// Set UserID in request's context
		// This pair will be used further down in the handler chain
		gctx.Set("UserID", userID)
		gctx.Next()
	}
}

// Helper to fetch token string from the Authorization header or the token query parameter.
func fetchToken(gctx *gin.Context) string {
	if header := gctx.GetHeader("Authorization"); header != "" {
		if token, found := strings.CutPrefix(header, "Bearer "); found {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return gctx.Query("token")
}

// Helper to parse token and extract the user id claim.
func parseUserID(token, secret string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		// Check the signing method
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method found: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return "", fmt.Errorf("invalid token")
	}
	userID, ok := claims[userIDClaim].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("token carries no %s claim", userIDClaim)
	}
	return userID, nil
}

// IssueToken signs an HS256 token for userID which expires after ttl.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIDClaim: userID,
		"exp":       time.Now().Add(ttl).Unix(),
	}).SignedString([]byte(secret))
}
