package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	entitlementdomain "github.com/smallbiznis/tixgate/internal/entitlement/domain"
)

type recordCheckinRequest struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	GateID       string `json:"gate_id"`
}

type effectiveEntitlementResponse struct {
	Entitlement *entitlementdomain.Entitlement `json:"entitlement"`
	Access      entitlementdomain.Access       `json:"access"`
}

// GetEffectiveEntitlement returns the entitlement with its derived access view.
func (s *Server) GetEffectiveEntitlement(c *gin.Context) {
	id, err := parseSnowflakeParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ent, access, err := s.entitlementSvc.Effective(c.Request.Context(), orgFromContext(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": effectiveEntitlementResponse{
		Entitlement: ent,
		Access:      access,
	}})
}

// RecordCheckin logs a gate scan. Denied scans are still recorded and returned with 200.
func (s *Server) RecordCheckin(c *gin.Context) {
	id, err := parseSnowflakeParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req recordCheckinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	outcome, err := s.entitlementSvc.RecordCheckin(c.Request.Context(), entitlementdomain.CheckinRequest{
		OrgID:         orgFromContext(c),
		EntitlementID: id,
		ResourceType:  strings.TrimSpace(req.ResourceType),
		ResourceID:    strings.TrimSpace(req.ResourceID),
		GateID:        strings.TrimSpace(req.GateID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": outcome})
}
