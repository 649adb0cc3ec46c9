package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AI-codelabs/leadloopr-integrations/internal/org"
)

const ginOrgContextKey = "orgContext"

type orgContextKey struct{}

// Org resolves the org from the X-Org-ID header and stores it in Gin and
// request contexts. The dashboard backend supplies the header after its own
// identity check; requests without a resolvable org never reach handlers.
func Org(resolver *org.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		orgSlug := strings.TrimSpace(c.Request.Header.Get("X-Org-ID"))

		orgCtx, err := resolver.ResolveBySlug(c.Request.Context(), orgSlug)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "invalid_org", "error_description": "Unknown org."})
			return
		}

		ctx := context.WithValue(c.Request.Context(), orgContextKey{}, orgCtx)
		c.Request = c.Request.WithContext(ctx)
		c.Set(ginOrgContextKey, orgCtx)

		c.Next()
	}
}

// GetOrgContext extracts the resolved org from the Gin context.
func GetOrgContext(c *gin.Context) (*org.Context, bool) {
	value, exists := c.Get(ginOrgContextKey)
	if !exists {
		return nil, false
	}
	orgCtx, ok := value.(*org.Context)
	return orgCtx, ok && orgCtx != nil
}

// OrgContextFromContext extracts the org context from a standard context.
func OrgContextFromContext(ctx context.Context) (*org.Context, bool) {
	orgCtx, ok := ctx.Value(orgContextKey{}).(*org.Context)
	return orgCtx, ok && orgCtx != nil
}
