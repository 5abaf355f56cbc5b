package handler

import (
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/helix-jobs/shared/blobstore"
	"github.com/cuongbtq/helix-jobs/shared/helixapi"
)

const defaultMaxContainerExpiryDays = blobstore.DefaultContainerExpirationDays

// Azure container naming rules: lowercase letters, digits and single hyphens
var containerNamePattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// NewContainer handles POST /api/storage
// Creates a container and returns read and write SAS tokens for it
func (h *StorageHandler) NewContainer(c *gin.Context) {
	if h.containers == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error": "Container issuance is not configured",
		})
		return
	}

	var req helixapi.ContainerCreationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if n := len(req.ContainerName); n < 3 || n > 63 || !containerNamePattern.MatchString(req.ContainerName) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "ContainerName must be 3-63 lowercase letters, digits or single hyphens",
		})
		return
	}

	days := req.ExpirationInDays
	if days <= 0 || days > h.maxExpiryDays {
		days = h.maxExpiryDays
	}

	info, err := h.containers.IssueContainer(c.Request.Context(), req.ContainerName, time.Duration(days)*24*time.Hour)
	if err != nil {
		h.logger.Error("Failed to issue container",
			slog.String("container", req.ContainerName),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to issue container",
		})
		return
	}

	containersIssued.Inc()
	h.logger.Info("Container issued",
		slog.String("container", info.ContainerName),
		slog.Int("expiration_days", days),
	)

	c.JSON(http.StatusCreated, info)
}
