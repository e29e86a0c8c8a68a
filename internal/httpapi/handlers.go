package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"voice-campaigns/internal/auth"
	"voice-campaigns/internal/campaigns"
	"voice-campaigns/internal/ledger"
	"voice-campaigns/internal/provider"
	"voice-campaigns/internal/rbac"
	"voice-campaigns/internal/reconcile"
	"voice-campaigns/internal/reporting"
	"voice-campaigns/internal/sweeper"
	"voice-campaigns/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Narrow views of the services the handlers call.

type LedgerAPI interface {
	ApplyTransaction(ctx context.Context, req ledger.ApplyRequest) (ledger.Transaction, ledger.Balance, error)
	GetBalance(ctx context.Context, userID string) (ledger.Balance, error)
	ListTransactions(ctx context.Context, f ledger.Filter) ([]ledger.Transaction, error)
}

type ReportingAPI interface {
	CampaignSummary(ctx context.Context, campaignID string) (reporting.CampaignSummary, error)
	MinutesSummary(ctx context.Context, req reporting.MinutesSummaryRequest) (reporting.MinutesSummary, error)
}

type CampaignReader interface {
	GetCampaign(ctx context.Context, id string) (campaigns.Campaign, error)
	GetBatch(ctx context.Context, id string) (campaigns.BatchCall, error)
	GetConversation(ctx context.Context, id string) (campaigns.Conversation, error)
}

type AudioSource interface {
	GetConversationAudio(ctx context.Context, conversationID string) (io.ReadCloser, string, error)
}

type Settler interface {
	SettleCampaignMinutes(ctx context.Context, batchID, userID string, failed bool) (reconcile.Settlement, error)
}

type Sweeper interface {
	SweepOnce(ctx context.Context) (sweeper.Report, error)
}

type AdminAuditor interface {
	LogAdminAction(ctx context.Context, userID, actorUserID, actorRole, ip, message, metadata string) error
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Ledger    LedgerAPI
	Reporting ReportingAPI
	Campaigns CampaignReader
	Audio     AudioSource
	Settler   Settler
	Sweeper   Sweeper
	Audit     AdminAuditor

	// DevLogin enables token issuance without credentials. Never set in production.
	DevLogin bool
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair for local and dev environments.
func (h Handlers) Login(c *gin.Context) {
	if !h.DevLogin {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Minutes ---

func (h Handlers) GetBalance(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	bal, err := h.Ledger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.JSON(http.StatusOK, ledger.Balance{UserID: userID})
			return
		}
		h.internal(c, "balance lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

// MinutesSummary totals the caller's ledger between ?from and ?to (RFC 3339).
// The range defaults to the last 30 days.
func (h Handlers) MinutesSummary(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	to := time.Now().UTC()
	from := to.Add(-30 * 24 * time.Hour)
	var err error
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
	}
	out, err := h.Reporting.MinutesSummary(c.Request.Context(), reporting.MinutesSummaryRequest{
		UserID: userID,
		Range:  reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		h.internal(c, "summary failed", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type deductionRequest struct {
	CampaignID  string `json:"campaign_id"`
	BatchID     string `json:"batch_id"`
	Minutes     int    `json:"minutes"`
	Description string `json:"description,omitempty"`
}

// Deduct reserves minutes for a batch the caller is about to dispatch.
// Route must be guarded by ledger.RequireMinutes.
func (h Handlers) Deduct(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	var req deductionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	tx, bal, err := h.Ledger.ApplyTransaction(c.Request.Context(), ledger.ApplyRequest{
		UserID:      userID,
		CampaignID:  req.CampaignID,
		BatchID:     req.BatchID,
		Type:        ledger.TypeDeduction,
		Minutes:     req.Minutes,
		Description: req.Description,
	})
	if err != nil {
		h.ledgerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transaction": tx, "balance": bal})
}

type creditRequest struct {
	UserID      string                 `json:"user_id"`
	Type        ledger.TransactionType `json:"type"`
	Minutes     int                    `json:"minutes"`
	Description string                 `json:"description,omitempty"`
}

// AdminCredit posts a purchase or bonus. RBAC: finance or super_admin.
func (h Handlers) AdminCredit(c *gin.Context) {
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Type != ledger.TypePurchase && req.Type != ledger.TypeBonus {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "type must be purchase or bonus"})
		return
	}
	tx, bal, err := h.Ledger.ApplyTransaction(c.Request.Context(), ledger.ApplyRequest{
		UserID:      req.UserID,
		Type:        req.Type,
		Minutes:     req.Minutes,
		Description: req.Description,
	})
	if err != nil {
		h.ledgerError(c, err)
		return
	}
	h.auditAdmin(c, req.UserID, fmt.Sprintf("%s %d minutes", req.Type, req.Minutes), tx.ID)
	c.JSON(http.StatusCreated, gin.H{"transaction": tx, "balance": bal})
}

// --- Campaigns ---

func (h Handlers) CampaignSummary(c *gin.Context) {
	out, err := h.Reporting.CampaignSummary(c.Request.Context(), c.Param("campaign_id"))
	if err != nil {
		switch {
		case errors.Is(err, reporting.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		case errors.Is(err, reporting.ErrInvalidRequest):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "campaign_id required"})
		default:
			h.internal(c, "summary failed", err)
		}
		return
	}
	if !rbac.CanAccessOwner(c, out.UserID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) CampaignTransactions(c *gin.Context) {
	camp, ok := h.ownedCampaign(c, c.Param("campaign_id"))
	if !ok {
		return
	}
	txs, err := h.Ledger.ListTransactions(c.Request.Context(), ledger.Filter{UserID: camp.UserID, CampaignID: camp.ID})
	if err != nil {
		h.internal(c, "transactions lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": camp.ID, "transactions": txs})
}

// ConversationAudio proxies the provider recording so the API key never leaves the server.
func (h Handlers) ConversationAudio(c *gin.Context) {
	ctx := c.Request.Context()
	conv, err := h.Campaigns.GetConversation(ctx, c.Param("conversation_id"))
	if err != nil {
		if errors.Is(err, campaigns.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		h.internal(c, "conversation lookup failed", err)
		return
	}
	if !rbac.CanAccessOwner(c, conv.UserID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	if !conv.HasAudio {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no recording"})
		return
	}

	rc, contentType, err := h.Audio.GetConversationAudio(ctx, conv.ConversationID)
	if err != nil {
		if provider.IsNotFound(err) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no recording"})
			return
		}
		logger.FromGin(c).Error("audio fetch failed", "conversation_id", conv.ConversationID, "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "provider unavailable"})
		return
	}
	defer rc.Close()
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	c.DataFromReader(http.StatusOK, -1, contentType, rc, nil)
}

// --- Admin ---

// AdminSettle runs settlement for one finished batch on demand. It is idempotent.
// Whether the batch failed comes from stored state, never from the caller, and a
// batch still in flight is refused: the refund row is final once written.
func (h Handlers) AdminSettle(c *gin.Context) {
	ctx := c.Request.Context()
	b, err := h.Campaigns.GetBatch(ctx, c.Param("batch_id"))
	if err != nil {
		if errors.Is(err, campaigns.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "batch not found"})
			return
		}
		h.internal(c, "batch lookup failed", err)
		return
	}

	var failed bool
	if b.CampaignID != "" {
		camp, err := h.Campaigns.GetCampaign(ctx, b.CampaignID)
		if err != nil {
			h.internal(c, "campaign lookup failed", err)
			return
		}
		if !camp.Status.Terminal() {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "campaign not finished", "status": camp.Status})
			return
		}
		failed = camp.Status == campaigns.CampaignStatusFailed
	} else {
		tr := reconcile.MapBatchStatus(b.Status)
		if !tr.Terminal() {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "batch not finished", "status": b.Status})
			return
		}
		failed = tr == reconcile.Failed
	}

	s, err := h.Settler.SettleCampaignMinutes(ctx, b.ID, b.UserID, failed)
	if err != nil {
		var nd *reconcile.NoDeductionFoundError
		if errors.As(err, &nd) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no deduction for batch"})
			return
		}
		h.internal(c, "settlement failed", err)
		return
	}
	h.auditAdmin(c, b.UserID, fmt.Sprintf("manual settlement of batch %s", b.ID), "")
	c.JSON(http.StatusOK, s)
}

func (h Handlers) AdminSweep(c *gin.Context) {
	rep, err := h.Sweeper.SweepOnce(c.Request.Context())
	if err != nil {
		h.internal(c, "sweep failed", err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// --- helpers ---

func (h Handlers) ownedCampaign(c *gin.Context, id string) (campaigns.Campaign, bool) {
	if strings.TrimSpace(id) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "campaign_id required"})
		return campaigns.Campaign{}, false
	}
	camp, err := h.Campaigns.GetCampaign(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, campaigns.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
			return campaigns.Campaign{}, false
		}
		h.internal(c, "campaign lookup failed", err)
		return campaigns.Campaign{}, false
	}
	if !rbac.CanAccessOwner(c, camp.UserID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return campaigns.Campaign{}, false
	}
	return camp, true
}

func (h Handlers) ledgerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid transaction"})
	case errors.Is(err, ledger.ErrInsufficientMinutes):
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient minutes"})
	case errors.Is(err, ledger.ErrDuplicate):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "duplicate transaction"})
	default:
		h.internal(c, "ledger write failed", err)
	}
}

func (h Handlers) internal(c *gin.Context, msg string, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": msg})
}

func (h Handlers) auditAdmin(c *gin.Context, userID, message, metadata string) {
	if h.Audit == nil {
		return
	}
	actor, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	if err := h.Audit.LogAdminAction(c.Request.Context(), userID, actor, role, c.ClientIP(), message, metadata); err != nil {
		logger.FromGin(c).Warn("audit admin action failed", "err", err)
	}
}
