package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	"voice-campaigns/internal/provider"
	"voice-campaigns/internal/reconcile"
	"voice-campaigns/pkg/logger"

	"github.com/gin-gonic/gin"
)

// maxWebhookBody bounds what we read before verifying the signature.
const maxWebhookBody = 4 << 20

// WebhookEngine is the ingest side of *reconcile.Engine.
type WebhookEngine interface {
	IngestConversationEvent(ctx context.Context, ev reconcile.ConversationEvent) (reconcile.ConversationResult, error)
	IngestBatchStatusEvent(ctx context.Context, ev reconcile.BatchStatusEvent) (reconcile.BatchOutcome, error)
}

// SignatureAuditor is satisfied by *audit.Service.
type SignatureAuditor interface {
	LogSignatureRejected(ctx context.Context, ip, reason string) error
}

// WebhookHandler receives provider callbacks.
//
// Status codes are part of the provider contract: 2xx stops redelivery, 4xx
// and 5xx are retried later. A delivery we cannot attribute to a user yet
// gets 400 so it comes back once the linking data exists.
type WebhookHandler struct {
	Secret string
	Engine WebhookEngine
	Audit  SignatureAuditor
}

func (h WebhookHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)
	ctx := c.Request.Context()

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Error("webhook body too large", "limit", tooLarge.Limit)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "body too large"})
			return
		}
		log.Error("webhook read failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "read body failed"})
		return
	}

	if err := provider.VerifySignature(h.Secret, body, c.GetHeader(provider.SignatureHeader)); err != nil {
		if errors.Is(err, provider.ErrMissingSecret) {
			log.Error("webhook secret not configured")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "webhook secret not configured"})
			return
		}
		log.Warn("webhook signature rejected", "ip", c.ClientIP())
		if h.Audit != nil {
			if aerr := h.Audit.LogSignatureRejected(ctx, c.ClientIP(), err.Error()); aerr != nil {
				log.Warn("audit signature rejection failed", "err", aerr)
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	env, err := provider.ParseEnvelope(body)
	if err != nil {
		log.Error("webhook envelope malformed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "malformed body"})
		return
	}
	log = log.With("webhook_type", env.Type)

	switch env.Type {
	case provider.EventPostCallTranscription:
		conv, err := provider.DecodeConversation(env.Data)
		if err != nil {
			log.Error("conversation payload malformed", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "malformed body"})
			return
		}
		res, err := h.Engine.IngestConversationEvent(ctx, reconcile.ConversationEventFromProvider(conv, body))
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":           "ok",
			"conversation_id":  res.Conversation.ConversationID,
			"recipient_linked": res.RecipientLinked,
		})

	case provider.EventBatchStatusUpdate:
		u, err := provider.DecodeBatchStatus(env.Data)
		if err != nil {
			log.Error("batch status payload malformed", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "malformed body"})
			return
		}
		out, err := h.Engine.IngestBatchStatusEvent(ctx, reconcile.BatchStatusEventFromProvider(u))
		if err != nil {
			h.fail(c, err)
			return
		}
		resp := gin.H{
			"status":       "ok",
			"batch_id":     out.Batch.ID,
			"transitioned": out.Transitioned,
		}
		if out.Settlement != nil {
			resp["refund_minutes"] = out.Settlement.RefundMinutes
			resp["already_settled"] = out.Settlement.AlreadySettled
		}
		c.JSON(http.StatusOK, resp)

	default:
		log.Info("webhook type ignored")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	}
}

func (h WebhookHandler) fail(c *gin.Context, err error) {
	log := logger.FromGin(c)
	var ore *reconcile.OwnerResolutionError
	if errors.As(err, &ore) {
		log.Warn("webhook owner unresolved",
			"conversation_id", ore.ConversationID,
			"batch_id", ore.BatchID,
			"recipient_id", ore.RecipientID,
		)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "owner unresolved"})
		return
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
