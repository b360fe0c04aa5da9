package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	entitlementdomain "github.com/smallbiznis/tixgate/internal/entitlement/domain"
	ledgerdomain "github.com/smallbiznis/tixgate/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/tixgate/internal/payment/domain"
)

type registerPaymentItemRequest struct {
	EntitlementType string `json:"entitlement_type"`
	ResourceType    string `json:"resource_type"`
	ResourceID      string `json:"resource_id"`
	Quantity        int    `json:"quantity"`
	UnitAmount      int64  `json:"unit_amount"`
	ValidUntil      string `json:"valid_until"`
}

type registerPaymentRequest struct {
	Reference         string                       `json:"reference"`
	Provider          string                       `json:"provider"`
	ProviderPaymentID string                       `json:"provider_payment_id"`
	OwnerIdentityID   string                       `json:"owner_identity_id"`
	OwnerEmail        string                       `json:"owner_email"`
	Currency          string                       `json:"currency"`
	DiscountBps       int64                        `json:"discount_bps"`
	Items             []registerPaymentItemRequest `json:"items"`
}

type recordRefundRequest struct {
	SourceEventID string `json:"source_event_id"`
	Amount        int64  `json:"amount"`
	FeeAmount     int64  `json:"fee_amount"`
}

type paymentResponse struct {
	Payment *paymentdomain.Payment `json:"payment"`
	Items   []paymentdomain.Item   `json:"items,omitempty"`
}

type paymentLedgerResponse struct {
	Entries       []ledgerdomain.Entry `json:"entries"`
	DerivedStatus string               `json:"derived_status"`
}

// RegisterPayment creates a payment with its line items and the PENDING
// entitlements the gateway callback will later activate.
func (s *Server) RegisterPayment(c *gin.Context) {
	var req registerPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	items := make([]paymentdomain.ItemRequest, 0, len(req.Items))
	for _, item := range req.Items {
		validUntil, err := parseOptionalTime(item.ValidUntil)
		if err != nil {
			AbortWithError(c, newValidationError("valid_until", "invalid_valid_until", "invalid valid_until"))
			return
		}
		items = append(items, paymentdomain.ItemRequest{
			EntitlementType: entitlementdomain.Type(strings.ToUpper(strings.TrimSpace(item.EntitlementType))),
			ResourceType:    strings.TrimSpace(item.ResourceType),
			ResourceID:      strings.TrimSpace(item.ResourceID),
			Quantity:        item.Quantity,
			UnitAmount:      item.UnitAmount,
			ValidUntil:      validUntil,
		})
	}

	payment, paymentItems, err := s.paymentSvc.RegisterPayment(c.Request.Context(), paymentdomain.RegisterRequest{
		OrgID:             orgFromContext(c),
		Reference:         strings.TrimSpace(req.Reference),
		Provider:          strings.TrimSpace(req.Provider),
		ProviderPaymentID: strings.TrimSpace(req.ProviderPaymentID),
		OwnerIdentityID:   strings.TrimSpace(req.OwnerIdentityID),
		OwnerEmail:        strings.TrimSpace(req.OwnerEmail),
		Currency:          strings.TrimSpace(req.Currency),
		DiscountBps:       req.DiscountBps,
		Items:             items,
		IssuePending:      true,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": paymentResponse{Payment: payment, Items: paymentItems}})
}

func (s *Server) GetPayment(c *gin.Context) {
	payment, err := s.paymentSvc.Get(c.Request.Context(), orgFromContext(c), c.Param("reference"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": paymentResponse{Payment: payment}})
}

// GetPaymentLedger returns the journal entries for a payment and the status they imply.
func (s *Server) GetPaymentLedger(c *gin.Context) {
	entries, derived, err := s.paymentSvc.Ledger(c.Request.Context(), orgFromContext(c), c.Param("reference"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if entries == nil {
		entries = []ledgerdomain.Entry{}
	}

	c.JSON(http.StatusOK, gin.H{"data": paymentLedgerResponse{Entries: entries, DerivedStatus: derived}})
}

func (s *Server) RecordRefund(c *gin.Context) {
	var req recordRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	recorded, err := s.paymentSvc.RecordRefund(c.Request.Context(), paymentdomain.RefundRequest{
		OrgID:         orgFromContext(c),
		PaymentRef:    c.Param("reference"),
		SourceEventID: strings.TrimSpace(req.SourceEventID),
		Amount:        req.Amount,
		FeeAmount:     req.FeeAmount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"entries_recorded": recorded}})
}
