package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actorRoles := rolesFromContext(c)
		if actorRoles.Empty() {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		err := s.authzSvc.Authorize(c.Request.Context(), actorRoles, strings.TrimSpace(object), strings.TrimSpace(action))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
