package admin

import (
	"encoding/csv"
	"errors"
	"net/http"
	"strconv"
	"time"

	"subscription-bot/internal/domain/consent"
	"subscription-bot/internal/domain/users"
	"subscription-bot/internal/payments"
	"subscription-bot/internal/reconcile"
	"subscription-bot/internal/subscription"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Handler struct {
	DB            *gorm.DB
	Requests      *payments.Service
	Subscriptions *subscription.Service
	Reconciler    *reconcile.Reconciler
	Logger        *zap.Logger
}

type AdminRequest struct {
	ID          uint   `json:"id"`
	TelegramID  int64  `json:"telegram_id"`
	Username    string `json:"username"`
	Plan        string `json:"plan"`
	Amount      int64  `json:"amount"`
	Status      string `json:"status"`
	ProofFileID string `json:"proof_file_id,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type AdminUser struct {
	TelegramID      int64      `json:"telegram_id"`
	Username        string     `json:"username"`
	SubscriptionEnd *time.Time `json:"subscription_end,omitempty"`
	InGroup         bool       `json:"in_group"`
}

func (h *Handler) ListRequests(c *gin.Context) {
	reqs, err := h.Requests.List(200)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load requests"})
		return
	}

	result := make([]AdminRequest, 0, len(reqs))
	for _, r := range reqs {
		result = append(result, AdminRequest{
			ID:          r.ID,
			TelegramID:  r.TelegramID,
			Username:    r.Username,
			Plan:        string(r.Plan),
			Amount:      r.Amount,
			Status:      string(r.Status),
			ProofFileID: r.ProofFileID,
			Phone:       r.Phone,
			Email:       r.Email,
			CreatedAt:   r.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	c.JSON(http.StatusOK, result)
}

type decideRequest struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note"`
}

// DecideRequest records the reviewer verdict and applies the follow-up
// effects (ledger extension, invite). The decision is durable even if
// a downstream notification fails.
func (h *Handler) DecideRequest(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request id"})
		return
	}

	var body decideRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed body"})
		return
	}

	reviewerID := c.GetInt64("reviewer_id")
	outcome, err := h.Requests.Decide(uint(id), reviewerID, body.Approve, body.Note)
	switch {
	case errors.Is(err, payments.ErrAlreadyProcessed):
		c.JSON(http.StatusConflict, gin.H{"error": "Request already processed"})
		return
	case errors.Is(err, payments.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Request not found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to decide request"})
		return
	}

	if err := h.Subscriptions.HandleApproval(outcome); err != nil {
		h.Logger.Error("post-decision workflow failed",
			zap.Uint("request_id", outcome.RequestID),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, gin.H{
			"status":  "decided",
			"warning": "decision recorded but follow-up actions failed, check logs",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "decided", "approved": outcome.Approved})
}

// RunReconciliation triggers an out-of-schedule reconciliation tick.
func (h *Handler) RunReconciliation(c *gin.Context) {
	if err := h.Reconciler.RunTick(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

type cleanupRequest struct {
	MaxAgeHours int `json:"max_age_hours" binding:"required,min=1"`
}

// CleanupRequests cancels open payment requests abandoned for longer
// than the given age.
func (h *Handler) CleanupRequests(c *gin.Context) {
	var body cleanupRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_age_hours required"})
		return
	}
	count, err := h.Requests.CleanupAbandoned(time.Duration(body.MaxAgeHours) * time.Hour)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cleanup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": count})
}

func (h *Handler) ListUsers(c *gin.Context) {
	var all []users.User
	if err := h.DB.Order("telegram_id").Find(&all).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load users"})
		return
	}

	result := make([]AdminUser, 0, len(all))
	for _, u := range all {
		result = append(result, AdminUser{
			TelegramID:      u.TelegramID,
			Username:        u.Username,
			SubscriptionEnd: u.SubscriptionEnd,
			InGroup:         u.InGroup,
		})
	}
	c.JSON(http.StatusOK, result)
}

// ExportConsents streams the accepted-offer audit log as CSV.
func (h *Handler) ExportConsents(c *gin.Context) {
	var rows []consent.Agreement
	if err := h.DB.Order("id").Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load agreements"})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="agreements.csv"`)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"telegram_id", "username", "offer_type", "offer_version", "accepted_at"})
	for _, row := range rows {
		_ = w.Write([]string{
			strconv.FormatInt(row.TelegramID, 10),
			row.Username,
			row.OfferType,
			row.OfferVersion,
			row.AcceptedAt.Format("2006-01-02 15:04:05"),
		})
	}
	w.Flush()
}
