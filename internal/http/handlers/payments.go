package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bradb345/t3test-sub001/internal/http/middleware"
	"github.com/bradb345/t3test-sub001/internal/http/validation"
	"github.com/bradb345/t3test-sub001/internal/modules/payments"
	"github.com/bradb345/t3test-sub001/internal/shared/apperr"
)

type PaymentsHandler struct {
	Payments *payments.Service
	Sync     *payments.WebhookService
}

func NewPaymentsHandler(svc *payments.Service, sync *payments.WebhookService) *PaymentsHandler {
	return &PaymentsHandler{Payments: svc, Sync: sync}
}

type initiateRequest struct {
	PaymentID string `json:"payment_id" binding:"required,uuid"`
	Mode      string `json:"mode" binding:"omitempty,oneof=checkout intent"`
}

type initiateResponse struct {
	PaymentID       string `json:"payment_id"`
	Mode            string `json:"mode"`
	CheckoutURL     string `json:"checkout_url,omitempty"`
	ClientSecret    string `json:"client_secret,omitempty"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	PlatformFee     int64  `json:"platform_fee"`
	LandlordPayout  int64  `json:"landlord_payout"`
}

// POST /api/payments/checkout
func (h *PaymentsHandler) Initiate(c *gin.Context) {
	u, _ := middleware.CurrentUser(c)

	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidErr("Please check the request.", validation.FromBindError(err, &req)).WithCause(err))
		return
	}

	res, err := h.Payments.InitiatePayment(c.Request.Context(), payments.InitiateInput{
		PaymentID: req.PaymentID,
		PayerID:   u.ID,
		Mode:      payments.Mode(req.Mode),
	})
	if err != nil {
		middleware.Fail(c, toAppErr(err))
		return
	}

	c.JSON(http.StatusOK, initiateResponse{
		PaymentID:       res.PaymentID,
		Mode:            string(res.Mode),
		CheckoutURL:     res.CheckoutURL,
		ClientSecret:    res.ClientSecret,
		PaymentIntentID: res.PaymentIntentID,
		PlatformFee:     res.PlatformFee,
		LandlordPayout:  res.LandlordPayout,
	})
}

type paymentView struct {
	ID                string     `json:"id"`
	LeaseID           string     `json:"lease_id"`
	Kind              string     `json:"kind"`
	Status            string     `json:"status"`
	Amount            string     `json:"amount"`
	Currency          string     `json:"currency"`
	PlatformFee       *string    `json:"platform_fee,omitempty"`
	LandlordPayout    *string    `json:"landlord_payout,omitempty"`
	CheckoutSessionID *string    `json:"checkout_session_id,omitempty"`
	PaymentIntentID   *string    `json:"payment_intent_id,omitempty"`
	FailureReason     *string    `json:"failure_reason,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func toPaymentView(p payments.Payment) paymentView {
	v := paymentView{
		ID:                p.ID,
		LeaseID:           p.LeaseID,
		Kind:              string(p.Kind),
		Status:            string(p.Status),
		Amount:            p.Amount.StringFixed(2),
		Currency:          p.Currency,
		CheckoutSessionID: p.CheckoutSessionID,
		PaymentIntentID:   p.PaymentIntentID,
		FailureReason:     p.FailureReason,
		PaidAt:            p.PaidAt,
		UpdatedAt:         p.UpdatedAt,
	}
	if p.PlatformFee.Valid {
		s := p.PlatformFee.Decimal.StringFixed(2)
		v.PlatformFee = &s
	}
	if p.LandlordPayout.Valid {
		s := p.LandlordPayout.Decimal.StringFixed(2)
		v.LandlordPayout = &s
	}
	return v
}

// GET /api/payments/:id
func (h *PaymentsHandler) Get(c *gin.Context) {
	u, _ := middleware.CurrentUser(c)

	p, err := h.Payments.GetPayment(c.Request.Context(), c.Param("id"), u.ID)
	if err != nil {
		middleware.Fail(c, toAppErr(err))
		return
	}
	c.JSON(http.StatusOK, toPaymentView(p))
}

// POST /api/admin/payments/:id/sync
func (h *PaymentsHandler) AdminSync(c *gin.Context) {
	p, err := h.Sync.SyncPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.Fail(c, toAppErr(err))
		return
	}
	c.JSON(http.StatusOK, toPaymentView(p))
}
