package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/zypocare/core-backend/internal/logger"
	"github.com/zypocare/core-backend/internal/principal"
)

// PrincipalMiddleware turns an access token issued upstream into the opaque
// Principal the governance subsystem consumes. It does not issue tokens or
// load role catalogs; those live outside this service.
type PrincipalMiddleware struct {
	log       *logger.Logger
	jwtSecret string
}

func NewPrincipalMiddleware(log *logger.Logger, jwtSecret string) *PrincipalMiddleware {
	return &PrincipalMiddleware{log: log.With("middleware", "PrincipalMiddleware"), jwtSecret: jwtSecret}
}

func (pm *PrincipalMiddleware) RequirePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}
		p, err := pm.principalFromToken(tokenString)
		if err != nil {
			pm.log.Debug("Rejected token", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}
		ctx := principal.WithPrincipal(c.Request.Context(), p)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (pm *PrincipalMiddleware) principalFromToken(tokenString string) (*principal.Principal, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(pm.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}

	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, fmt.Errorf("invalid sub claim")
	}
	p := &principal.Principal{
		UserID:    userID,
		RoleCode:  stringClaim(claims, "role_code"),
		RoleScope: stringClaim(claims, "role_scope"),
	}
	if raw := stringClaim(claims, "branch_id"); raw != "" {
		branchID, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid branch_id claim")
		}
		p.BranchID = &branchID
	}
	return p, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func extractBearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}
