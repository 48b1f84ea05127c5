package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/moradacoop/morada/internal/payment/domain"
	"go.uber.org/zap"
)

// The provider has used both header names across API versions.
var signatureHeaders = []string{"X-Ciabra-Signature", "X-Webhook-Signature"}

// HandleCiabraWebhook receives billing provider callbacks. Deliveries that
// reference charges we do not know are acknowledged with 200 anyway, because
// a non-2xx answer makes the provider retry forever.
func (s *Server) HandleCiabraWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, paymentdomain.ErrInvalidPayload)
		return
	}

	var signature string
	for _, header := range signatureHeaders {
		if signature = c.GetHeader(header); signature != "" {
			break
		}
	}

	err = s.webhookSvc.Ingest(c.Request.Context(), signature, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrPaymentNotFound) {
			c.JSON(http.StatusOK, gin.H{"success": true, "message": "charge not recognized"})
			return
		}
		s.log.Warn("webhook ingest failed", zap.Error(err))
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
