package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bradb345/t3test-sub001/internal/http/middleware"
	"github.com/bradb345/t3test-sub001/internal/modules/payments"
)

type OnboardingHandler struct {
	Svc *payments.OnboardingService
}

func NewOnboardingHandler(svc *payments.OnboardingService) *OnboardingHandler {
	return &OnboardingHandler{Svc: svc}
}

// POST /api/landlord/onboarding
func (h *OnboardingHandler) Start(c *gin.Context) {
	u, _ := middleware.CurrentUser(c)

	res, err := h.Svc.StartOnboarding(c.Request.Context(), u.ID)
	if err != nil {
		middleware.Fail(c, toAppErr(err))
		return
	}
	if res.Complete {
		c.JSON(http.StatusOK, gin.H{"complete": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"complete": false, "url": res.URL})
}

// GET /api/landlord/onboarding
func (h *OnboardingHandler) Status(c *gin.Context) {
	u, _ := middleware.CurrentUser(c)

	st, err := h.Svc.CheckStatus(c.Request.Context(), u.ID)
	if err != nil {
		middleware.Fail(c, toAppErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          st.Status,
		"account_id":      st.AccountID,
		"charges_enabled": st.ChargesEnabled,
		"payouts_enabled": st.PayoutsEnabled,
	})
}
