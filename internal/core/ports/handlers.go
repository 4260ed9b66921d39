package ports

import (
	"tandem/internal/core/domain"

	"github.com/gin-gonic/gin"
)

// Outbox is the non-blocking send side of one connection.
// Deliver returns false when the message was dropped.
type Outbox interface {
	Deliver(msg *domain.Message) bool
}

type PresenceHTTPHandler interface {
	GetPresence(c *gin.Context)
	GetPlayCounts(c *gin.Context)
}
