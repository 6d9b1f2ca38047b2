package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"nutribin-backend/internal/apperr"
	"nutribin-backend/internal/objstore"
)

const maxFirmwareBytes = 32 << 20

// UploadFirmware accepts a multipart upload with file, version and notes.
func (h *Handler) UploadFirmware(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxFirmwareBytes+1<<20)
	fh, err := c.FormFile("file")
	if err != nil {
		h.fail(c, apperr.BadRequest("file is required"))
		return
	}
	if fh.Size > maxFirmwareBytes {
		h.fail(c, apperr.BadRequest("Firmware file is too large"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.fail(c, err)
		return
	}
	defer f.Close()

	rel, err := h.firmware.Upload(c.Request.Context(), c.PostForm("version"), c.PostForm("notes"), fh.Filename, fh.Size, f)
	if errors.Is(err, objstore.ErrNotConfigured) {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"statusCode": http.StatusServiceUnavailable, "message": "Object storage is not configured"})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"release": rel})
}

// ListFirmware lists all releases.
func (h *Handler) ListFirmware(c *gin.Context) {
	list, err := h.firmware.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"releases": list})
}

// LatestFirmware returns the newest release with a signed download URL.
func (h *Handler) LatestFirmware(c *gin.Context) {
	rel, err := h.firmware.Latest(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"release": rel})
}
