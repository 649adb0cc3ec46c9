package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AI-codelabs/leadloopr-integrations/internal/domain"
	"github.com/AI-codelabs/leadloopr-integrations/internal/http/middleware"
	"github.com/AI-codelabs/leadloopr-integrations/internal/service/dispatch"
	"github.com/AI-codelabs/leadloopr-integrations/internal/service/integration"
)

// IntegrationHandler orchestrates the provider integration endpoints.
type IntegrationHandler struct {
	Integrations *integration.Service
	Dispatch     *dispatch.Service
}

// NewIntegrationHandler creates the handler set.
func NewIntegrationHandler(integrations *integration.Service, dispatcher *dispatch.Service) *IntegrationHandler {
	return &IntegrationHandler{Integrations: integrations, Dispatch: dispatcher}
}

// List reports connection status for every supported provider.
func (h *IntegrationHandler) List(c *gin.Context) {
	orgCtx, ok := middleware.GetOrgContext(c)
	if !ok {
		respondOrgMissing(c)
		return
	}
	reports, err := h.Integrations.StatusAll(c.Request.Context(), orgCtx.Org.ID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"integrations": reports})
}

// Status reports the connection status for one provider.
func (h *IntegrationHandler) Status(c *gin.Context) {
	orgCtx, ok := middleware.GetOrgContext(c)
	if !ok {
		respondOrgMissing(c)
		return
	}
	p, err := domain.ParseProvider(c.Param("provider"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	report, err := h.Integrations.Status(c.Request.Context(), orgCtx.Org.ID, p)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Connect builds the provider authorization URL for the connect flow.
func (h *IntegrationHandler) Connect(c *gin.Context) {
	orgCtx, ok := middleware.GetOrgContext(c)
	if !ok {
		respondOrgMissing(c)
		return
	}
	p, err := domain.ParseProvider(c.Param("provider"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	redirectURI := c.Query("redirect_uri")
	authURL, err := h.Integrations.Connect(c.Request.Context(), orgCtx.Org.ID, p, redirectURI)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"authorization_url": authURL})
}

// Callback completes the OAuth round-trip. The provider redirect carries no
// org header; the persisted connect state identifies the tenant.
func (h *IntegrationHandler) Callback(c *gin.Context) {
	p, err := domain.ParseProvider(c.Param("provider"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	if errParam := c.Query("error"); errParam != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "authorization_denied", "error_description": errParam})
		return
	}
	report, err := h.Integrations.HandleCallback(c.Request.Context(), p, c.Query("code"), c.Query("state"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListAccounts enumerates selectable provider sub-accounts.
func (h *IntegrationHandler) ListAccounts(c *gin.Context) {
	orgCtx, ok := middleware.GetOrgContext(c)
	if !ok {
		respondOrgMissing(c)
		return
	}
	p, err := domain.ParseProvider(c.Param("provider"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	accounts, err := h.Integrations.ListAccounts(c.Request.Context(), orgCtx.Org.ID, p)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

type selectAccountRequest struct {
	AccountID string `json:"account_id" binding:"required"`
	Settings  struct {
		ConversionActionID string `json:"conversion_action_id"`
		MeasurementID      string `json:"measurement_id"`
		APISecret          string `json:"api_secret"`
		PixelID            string `json:"pixel_id"`
		ConversionGoalID   string `json:"conversion_goal_id"`
	} `json:"settings"`
}

// SelectAccount records the chosen sub-account and activates the integration.
func (h *IntegrationHandler) SelectAccount(c *gin.Context) {
	orgCtx, ok := middleware.GetOrgContext(c)
	if !ok {
		respondOrgMissing(c)
		return
	}
	p, err := domain.ParseProvider(c.Param("provider"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	var req selectAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "account_id is required."})
		return
	}
	report, err := h.Integrations.SelectAccount(c.Request.Context(), orgCtx.Org.ID, p, req.AccountID, domain.CredentialSettings{
		ConversionActionID: req.Settings.ConversionActionID,
		MeasurementID:      req.Settings.MeasurementID,
		APISecret:          req.Settings.APISecret,
		PixelID:            req.Settings.PixelID,
		ConversionGoalID:   req.Settings.ConversionGoalID,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Disconnect revokes (best effort) and deletes the stored credential.
func (h *IntegrationHandler) Disconnect(c *gin.Context) {
	orgCtx, ok := middleware.GetOrgContext(c)
	if !ok {
		respondOrgMissing(c)
		return
	}
	p, err := domain.ParseProvider(c.Param("provider"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	if err := h.Integrations.Disconnect(c.Request.Context(), orgCtx.Org.ID, p); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SyncLead forwards the lead conversion event to the provider.
func (h *IntegrationHandler) SyncLead(c *gin.Context) {
	orgCtx, ok := middleware.GetOrgContext(c)
	if !ok {
		respondOrgMissing(c)
		return
	}
	p, err := domain.ParseProvider(c.Param("provider"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	leadID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Lead id must be numeric."})
		return
	}
	outcome, err := h.Dispatch.SendConversion(c.Request.Context(), orgCtx.Org.ID, leadID, p)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (h *IntegrationHandler) respondServiceError(c *gin.Context, err error) {
	var dispatchErr *domain.DispatchError
	switch {
	case errors.Is(err, domain.ErrUnknownProvider):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_provider", "error_description": "Unsupported provider."})
	case errors.Is(err, domain.ErrNotConnected):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_connected", "error_description": "Provider is not connected. Complete the OAuth flow first."})
	case errors.Is(err, domain.ErrRefreshFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": "refresh_failed", "error_description": "Connection is broken and needs reauthorization."})
	case errors.Is(err, domain.ErrMissingAttribution):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "missing_attribution", "error_description": err.Error()})
	case errors.Is(err, domain.ErrLeadNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "lead_not_found", "error_description": "Lead does not exist."})
	case errors.Is(err, domain.ErrInvalidState):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_state", "error_description": "Connect state is missing or expired."})
	case errors.As(err, &dispatchErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "dispatch_failed", "error_description": dispatchErr.Body})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": err.Error()})
	}
}

func respondOrgMissing(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "invalid_org", "error_description": "Org not resolved."})
}
