package server

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
	"github.com/memcortex/fabric/internal/types"
)

// Claims is the access-token payload: identity plus the role the rest of
// the pipeline uses to decide which privacy levels a query may read.
type Claims struct {
	UserID   uuid.UUID     `json:"user_id"`
	TenantID string        `json:"tenant_id"`
	Role     types.UserRole `json:"role"`
	TokenUse string        `json:"token_use"` // "access" or "refresh"
	jwt.RegisteredClaims
}

const (
	tokenUseAccess  = "access"
	ctxKeyUserID    = "auth.user_id"
	ctxKeyTenantID  = "auth.tenant_id"
	ctxKeyRole      = "auth.role"
)

// IssueAccessToken mints a short-lived access token for the given identity.
// Only used by tests and any local credential-issuing flow the deployment
// wires in; the real login/OAuth surface is out of scope per spec.md §1.
func IssueAccessToken(secret string, userID uuid.UUID, tenantID string, role types.UserRole, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID:   userID,
		TenantID: tenantID,
		Role:     role,
		TokenUse: tokenUseAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// RequireAuth validates the bearer token, rejects refresh tokens presented
// where an access token belongs (spec.md §7's AuthError "token type
// mismatch" case), and stashes the identity in the gin context for
// handlers to read via UserID/TenantID/Role.
func RequireAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			abortAuth(c, "missing or malformed Authorization header")
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fabricerrors.ErrAuth
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			abortAuth(c, "invalid or expired token")
			return
		}
		if claims.TokenUse != tokenUseAccess {
			abortAuth(c, "refresh token presented where an access token is required")
			return
		}

		c.Set(ctxKeyUserID, claims.UserID)
		c.Set(ctxKeyTenantID, claims.TenantID)
		c.Set(ctxKeyRole, claims.Role)
		c.Next()
	}
}

func abortAuth(c *gin.Context, message string) {
	appErr := fabricerrors.NewUnauthorizedError(message)
	c.AbortWithStatusJSON(appErr.Status, gin.H{"code": appErr.Code, "message": appErr.Message})
}

// UserID reads the authenticated caller's id set by RequireAuth.
func UserID(c *gin.Context) uuid.UUID { return c.MustGet(ctxKeyUserID).(uuid.UUID) }

// TenantID reads the authenticated caller's tenant set by RequireAuth.
func TenantID(c *gin.Context) string { return c.MustGet(ctxKeyTenantID).(string) }

// Role reads the authenticated caller's role set by RequireAuth.
func Role(c *gin.Context) types.UserRole { return c.MustGet(ctxKeyRole).(types.UserRole) }
