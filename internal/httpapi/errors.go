package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/llmgateway/internal/gwerr"
)

// writeError renders any error crossing the core's boundary as the JSON
// envelope spec §7 describes, using the *gwerr.Error's status and kind
// when available, and a generic 500 for anything else (a programming
// error rather than a classified pipeline failure).
func writeError(c *gin.Context, err error) {
	gerr, ok := gwerr.As(err)
	if !ok {
		log.WithError(err).Error("unclassified error reached the HTTP layer")
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"kind": "internal", "message": "internal error"}})
		return
	}

	body := gin.H{"kind": gerr.Kind, "message": gerr.Message}
	if gerr.Retryable {
		retryAfter := gerr.RetryAfterSec
		if retryAfter == 0 {
			retryAfter = 30
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		body["retry_after"] = retryAfter
	}
	c.JSON(gerr.Status, gin.H{"error": body})
}
