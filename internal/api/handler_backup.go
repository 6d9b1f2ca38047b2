package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nutribin-backend/internal/apperr"
	"nutribin-backend/internal/backup"
)

// DownloadBackup streams a fresh dump as an attachment without touching
// the disk.
func (h *Handler) DownloadBackup(c *gin.Context) {
	name := backup.FileName(time.Now())
	c.Header("Content-Type", "application/sql")
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)

	started := false
	for chunk, err := range h.dumper.Chunks(c.Request.Context()) {
		if err != nil {
			if !started {
				h.fail(c, err)
				return
			}
			// Headers are gone; mark the dump as incomplete and cut the stream.
			h.log.Error("backup stream aborted", zap.Error(err))
			io.WriteString(c.Writer, "\n-- Backup incomplete: "+err.Error()+"\n")
			c.Abort()
			return
		}
		if !started {
			c.Status(http.StatusOK)
			started = true
		}
		if _, err := io.WriteString(c.Writer, chunk); err != nil {
			h.log.Warn("backup stream client gone", zap.Error(err))
			return
		}
		c.Writer.Flush()
	}
}

// RunBackup writes a backup file now.
func (h *Handler) RunBackup(c *gin.Context) {
	res, err := h.backups.RunOnce(c.Request.Context())
	if errors.Is(err, backup.ErrExists) {
		h.fail(c, apperr.Conflict("A backup was just written; retry in a second"))
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"backup": res})
}

// ListBackups lists the backup files on disk, newest first.
func (h *Handler) ListBackups(c *gin.Context) {
	files, err := backup.ListFiles(h.backups.Dir())
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"files": files})
}

// GetBackupFile downloads one backup file by name.
func (h *Handler) GetBackupFile(c *gin.Context) {
	name := c.Param("name")
	f, err := backup.OpenFile(h.backups.Dir(), name)
	switch {
	case errors.Is(err, backup.ErrInvalidName):
		h.fail(c, apperr.BadRequest("Invalid backup file name"))
		return
	case errors.Is(err, os.ErrNotExist):
		h.fail(c, apperr.NotFound("Backup file not found"))
		return
	case err != nil:
		h.fail(c, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(c.Writer, c.Request, name, info.ModTime(), f)
}

// CleanBackups keeps only the newest ?keep= files (default 10).
func (h *Handler) CleanBackups(c *gin.Context) {
	keep, valid := h.intQuery(c, "keep", 10)
	if !valid {
		return
	}
	if keep < 1 {
		h.fail(c, apperr.BadRequest("keep must be at least 1"))
		return
	}
	removed, err := backup.CleanOldBackups(h.backups.Dir(), keep)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"removed": removed, "kept": keep})
}
