package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/tixgate/internal/observability/context"
	"github.com/smallbiznis/tixgate/internal/roles"
)

const (
	HeaderOrg   = "X-Org-ID"
	HeaderRoles = "X-Roles"
	HeaderActor = "X-Actor-ID"

	contextRolesKey = "roles"
	contextOrgKey   = "org_id"
)

// RolesFromHeader normalizes the caller's roles. Authentication happens at the
// edge proxy, which sets X-Roles and X-Actor-ID.
func (s *Server) RolesFromHeader() gin.HandlerFunc {
	return func(c *gin.Context) {
		set := roles.Normalize(c.Request.Header.Values(HeaderRoles))
		c.Set(contextRolesKey, set)

		if actor := strings.TrimSpace(c.GetHeader(HeaderActor)); actor != "" {
			ctx := obscontext.WithActor(c.Request.Context(), "user", actor)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

// OrgRequired resolves the organization from X-Org-ID.
func (s *Server) OrgRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, err := parseOptionalSnowflakeID(c.GetHeader(HeaderOrg))
		if err != nil || orgID == nil {
			AbortWithError(c, ErrOrgRequired)
			return
		}
		c.Set(contextOrgKey, *orgID)
		ctx := obscontext.WithOrgID(c.Request.Context(), orgID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func rolesFromContext(c *gin.Context) roles.Set {
	if value, ok := c.Get(contextRolesKey); ok {
		if set, ok := value.(roles.Set); ok {
			return set
		}
	}
	return roles.Set{}
}

func orgFromContext(c *gin.Context) snowflake.ID {
	if value, ok := c.Get(contextOrgKey); ok {
		if id, ok := value.(snowflake.ID); ok {
			return id
		}
	}
	return 0
}

func actorFromRequest(c *gin.Context) string {
	_, actorID := obscontext.ActorFromContext(c.Request.Context())
	if actorID == "" {
		return "anonymous"
	}
	return actorID
}
