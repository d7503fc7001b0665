package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bradb345/t3test-sub001/internal/http/middleware"
	"github.com/bradb345/t3test-sub001/internal/modules/payments"
)

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	Logger     *slog.Logger
	Providers  map[string]payments.Provider
	WebhookSvc *payments.WebhookService
}

func NewWebhookHandler(logger *slog.Logger, svc *payments.WebhookService, providers ...payments.Provider) *WebhookHandler {
	m := make(map[string]payments.Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &WebhookHandler{Logger: logger, Providers: m, WebhookSvc: svc}
}

// POST /webhooks/:provider
// Body is read raw; the provider adapter checks the signature over it.
// A 5xx tells the provider to retry.
func (h *WebhookHandler) Handle(c *gin.Context) {
	ctx := c.Request.Context()
	rid := middleware.GetRequestID(c)

	p, ok := h.Providers[c.Param("provider")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "unknown provider"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	ev, err := p.VerifyAndParseWebhook(c.Request.Header, body)
	if err != nil {
		h.Logger.WarnContext(ctx, "webhook rejected", "provider", p.Name(), "request_id", rid, "err", err)
		msg := "invalid payload"
		if errors.Is(err, payments.ErrInvalidSignature) {
			msg = "invalid signature"
		}
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": msg})
		return
	}

	if err := h.WebhookSvc.Handle(ctx, p.Name(), ev, body); err != nil {
		if errors.Is(err, payments.ErrMalformedEvent) {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid payload"})
			return
		}
		h.Logger.ErrorContext(ctx, "webhook apply failed",
			"provider", p.Name(), "event_id", ev.EventID, "type", ev.Type, "request_id", rid, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
