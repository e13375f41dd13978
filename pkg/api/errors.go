package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loopsymphony/symphony/pkg/approval"
	"github.com/loopsymphony/symphony/pkg/rooms"
	"github.com/loopsymphony/symphony/pkg/store"
	"github.com/loopsymphony/symphony/pkg/trust"
)

// mapError converts service-layer errors to HTTP responses. Unrecognized
// errors are logged and hidden behind a generic 500.
func (s *Server) mapError(c *gin.Context, err error) {
	var (
		denied       *trust.DeniedError
		approvalMiss *approval.NotFoundError
		unknownRoom  *rooms.ErrUnknownRoom
	)
	switch {
	case errors.As(err, &denied):
		c.JSON(http.StatusForbidden, gin.H{"error": denied.Error()})
	case errors.As(err, &approvalMiss):
		c.JSON(http.StatusNotFound, gin.H{"error": approvalMiss.Error()})
	case errors.As(err, &unknownRoom):
		c.JSON(http.StatusNotFound, gin.H{"error": unknownRoom.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		s.log.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
