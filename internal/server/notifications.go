package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	notificationdomain "github.com/smallbiznis/tixgate/internal/notification/domain"
)

type scheduleChangeRecipient struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type scheduleChangeRequest struct {
	MatchID    string                    `json:"match_id"`
	StartsAt   string                    `json:"starts_at"`
	CourtID    string                    `json:"court_id"`
	Version    int64                     `json:"version"`
	Recipients []scheduleChangeRecipient `json:"recipients"`
}

func (s *Server) NotifyScheduleChange(c *gin.Context) {
	var req scheduleChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	startsAt, err := parseOptionalTime(req.StartsAt)
	if err != nil || startsAt == nil {
		AbortWithError(c, notificationdomain.ErrInvalidStartsAt)
		return
	}

	recipients := make([]notificationdomain.Recipient, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		recipients = append(recipients, notificationdomain.Recipient{
			ID:    strings.TrimSpace(r.ID),
			Email: strings.TrimSpace(r.Email),
			Name:  strings.TrimSpace(r.Name),
		})
	}

	result, err := s.notificationSvc.NotifyScheduleChange(c.Request.Context(), notificationdomain.ScheduleChange{
		OrgID:      orgFromContext(c),
		MatchID:    strings.TrimSpace(req.MatchID),
		StartsAt:   *startsAt,
		CourtID:    strings.TrimSpace(req.CourtID),
		Version:    req.Version,
		Recipients: recipients,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": result})
}
