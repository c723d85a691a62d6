package webhook

import (
	"context"
	"io"
	"log"
	"net/http"

	"omnichat-gateway/internal/config"
	"omnichat-gateway/internal/ingest"
	"omnichat-gateway/internal/platform"

	"github.com/gin-gonic/gin"
)

// Handler is the webhook gateway: it authenticates the raw request, hands the
// body to the matching platform processor, and runs the resulting events
// through the ingestion pipeline. The provider is acknowledged as soon as the
// batch is accepted; downstream work continues in the background to stay
// inside provider response-time budgets.
type Handler struct {
	Config   *config.Config
	Registry *platform.Registry
	Pipeline *ingest.Pipeline
}

func NewHandler(cfg *config.Config, registry *platform.Registry, pipeline *ingest.Pipeline) *Handler {
	return &Handler{
		Config:   cfg,
		Registry: registry,
		Pipeline: pipeline,
	}
}

// VerifyWebhook answers the subscription handshake (Meta-family platforms):
// on mode=subscribe with the right verify token, the challenge is echoed
// verbatim.
func (h *Handler) VerifyWebhook(c *gin.Context) {
	processor := h.Registry.Get(c.Param("platform"))
	if processor == nil {
		c.Status(http.StatusNotFound)
		return
	}
	token := processor.ChallengeToken()
	if token == "" {
		// Platform without a challenge handshake.
		c.Status(http.StatusNotFound)
		return
	}

	mode := c.Query("hub.mode")
	provided := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "" || provided == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	if mode == "subscribe" && provided == token {
		log.Printf("Webhook verified successfully for %s", processor.Platform())
		c.String(http.StatusOK, challenge)
		return
	}
	c.Status(http.StatusForbidden)
}

// HandleWebhook processes one POST delivery.
func (h *Handler) HandleWebhook(c *gin.Context) {
	processor := h.Registry.Get(c.Param("platform"))
	if processor == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "unknown platform"})
		return
	}

	// The signature is computed over the exact bytes on the wire, so the body
	// must be read before any JSON parsing.
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "error reading request body"})
		return
	}

	if !h.Config.AllowUnsignedWebhooks {
		if err := processor.VerifySignature(body, c.Request.Header); err != nil {
			log.Printf("Rejected %s webhook: %v", processor.Platform(), err)
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid signature"})
			return
		}
	}

	events, err := processor.ExtractEvents(body)
	if err != nil {
		// The whole payload is unreadable: keep it for reconciliation and
		// tell the provider not to redeliver.
		h.Pipeline.DeadLetters.Record(c.Request.Context(), processor.Platform(), "", body,
			&ingest.MalformedPayloadError{Reason: err.Error()})
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "unparseable payload"})
		return
	}

	// Acknowledge now, process in the background. Per-event failures are
	// dead-lettered inside the pipeline and never abort sibling events.
	go func(platformName string, events []platform.Event) {
		result := h.Pipeline.ProcessBatch(context.Background(), platformName, events)
		if result.DeadLetter > 0 {
			log.Printf("Batch for %s: %d processed, %d dead-lettered",
				platformName, result.Processed, result.DeadLetter)
		}
	}(processor.Platform(), events)

	c.JSON(http.StatusOK, gin.H{"success": true})
}
