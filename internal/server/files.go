package server

import (
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/phage/internal/observability/logger"
	"go.uber.org/zap"
)

// ServeFile streams a blob from the database backend after checking the
// signed query produced by storage.Signer.
func (s *Server) ServeFile(c *gin.Context) {
	if s.signer == nil || s.store == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	key := strings.TrimPrefix(c.Param("key"), "/")
	filename := c.Query("filename")
	if err := s.signer.Verify(key, c.Query("expires"), filename, c.Query("sig")); err != nil {
		AbortWithError(c, err)
		return
	}

	obj, err := s.store.Get(c.Request.Context(), key)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer func() {
		if err := obj.Body.Close(); err != nil {
			logger.FromContext(c.Request.Context()).Warn("close blob", zap.Error(err))
		}
	}()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	headers := map[string]string{
		"Cache-Control": "private, no-store",
	}
	if filename != "" {
		headers["Content-Disposition"] = mime.FormatMediaType("attachment", map[string]string{"filename": filename})
	}
	c.DataFromReader(http.StatusOK, obj.Size, contentType, obj.Body, headers)
}
