package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/thereayou/roomchat/internal/attachments"
	"github.com/thereayou/roomchat/internal/services"
)

type AttachmentHandler struct {
	store services.AttachmentReader
}

func NewAttachmentHandler(store services.AttachmentReader) *AttachmentHandler {
	return &AttachmentHandler{store: store}
}

// Serve streams stored image bytes. Keys embed a content digest, so the
// response never changes and can be cached for good.
func (h *AttachmentHandler) Serve(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if err := attachments.ValidateKey(key); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attachment key"})
		return
	}

	blob, err := h.store.Open(c.Request.Context(), attachments.Ref(key))
	if err != nil {
		if errors.Is(err, attachments.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
			return
		}
		glog.Errorf("attachments: open %s: %v", key, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read attachment"})
		return
	}

	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Data(http.StatusOK, blob.ContentType, blob.Data)
}
