package http

import (
	"net/http"

	"tandem/internal/core/domain"
	"tandem/internal/core/ports"
	"tandem/pkg/errors"
	"tandem/pkg/validation"

	"github.com/gin-gonic/gin"
)

type PresenceHandler struct {
	coordinator ports.Coordinator
	plays       ports.PlayCountRepository
}

var _ ports.PresenceHTTPHandler = (*PresenceHandler)(nil)

func NewPresenceHandler(coordinator ports.Coordinator, plays ports.PlayCountRepository) *PresenceHandler {
	return &PresenceHandler{
		coordinator: coordinator,
		plays:       plays,
	}
}

// SetupRoutes mounts the read-only API on group, typically /api/v1.
func (h *PresenceHandler) SetupRoutes(group *gin.RouterGroup) {
	group.GET("/presence", h.GetPresence)
	group.GET("/media/:id/plays", h.GetPlayCounts)
}

func (h *PresenceHandler) GetPresence(c *gin.Context) {
	c.JSON(http.StatusOK, h.coordinator.Snapshot())
}

type playCountsResponse struct {
	MediaItemID domain.MediaItemID    `json:"mediaItemId"`
	PlayCounts  map[domain.Role]int64 `json:"playCounts"`
	TotalPlays  int64                 `json:"totalPlays"`
}

func (h *PresenceHandler) GetPlayCounts(c *gin.Context) {
	item := c.Param("id")
	if err := validation.ValidateMediaItemID(item); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	counts, err := h.plays.GetPlays(c.Request.Context(), domain.MediaItemID(item))
	if err != nil {
		_ = c.Error(errors.WrapError(err, errors.ErrCodeServiceUnavailable, "play counts unavailable", http.StatusServiceUnavailable))
		return
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	c.JSON(http.StatusOK, playCountsResponse{
		MediaItemID: domain.MediaItemID(item),
		PlayCounts:  counts,
		TotalPlays:  total,
	})
}
