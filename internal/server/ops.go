package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	outboxdomain "github.com/smallbiznis/tixgate/internal/outbox/domain"
	"github.com/smallbiznis/tixgate/pkg/db/pagination"
)

// GetSLOReport reports outbox health. Without X-Org-ID it covers every org.
func (s *Server) GetSLOReport(c *gin.Context) {
	orgID, err := parseOptionalSnowflakeID(c.GetHeader(HeaderOrg))
	if err != nil {
		AbortWithError(c, ErrOrgRequired)
		return
	}
	var scope snowflake.ID
	if orgID != nil {
		scope = *orgID
	}

	report, err := s.sloReporter.Report(c.Request.Context(), scope)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) ListDeadLetters(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	events, pageInfo, err := s.outboxSvc.ListDeadLetters(c.Request.Context(), orgFromContext(c), page)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if events == nil {
		events = []outboxdomain.Event{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      events,
		"page_info": pageInfo,
	})
}

// ReplayOutboxEvent moves a dead-lettered row back to PENDING. Rows owned by
// another org are reported as missing.
func (s *Server) ReplayOutboxEvent(c *gin.Context) {
	id, err := parseSnowflakeParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	event, err := s.outboxSvc.Get(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if event.OrgID != orgFromContext(c) {
		AbortWithError(c, ErrNotFound)
		return
	}

	replayed, err := s.outboxSvc.Replay(ctx, id, actorFromRequest(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"replayed": replayed}})
}
