package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Lllllllleong/autodoc/internal/models"
	"github.com/Lllllllleong/autodoc/internal/objectstore"
	"github.com/Lllllllleong/autodoc/internal/services"
)

// formOverhead is the multipart framing allowed on top of MaxUploadBytes.
const formOverhead = 1 << 20

func (s *Server) entry(c *gin.Context) *userGallery {
	sess, _ := currentSession(c)
	return s.registry.get(sess.ID)
}

func (s *Server) gallery(c *gin.Context) {
	e := s.entry(c)
	var err error
	if c.Query("refresh") != "" {
		err = e.controller.Initialize(c.Request.Context())
	} else {
		err = e.controller.EnsureInitialized(c.Request.Context())
	}
	if err != nil {
		slog.Warn("Gallery refresh failed.", "error", err)
	}

	view := e.controller.View()
	keep := make([]string, len(view.Documents))
	for i, d := range view.Documents {
		keep[i] = d.Path
	}
	e.thumbnails.Retain(keep)
	c.JSON(http.StatusOK, view)
}

func (s *Server) selectFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.deps.MaxUploadBytes+formOverhead)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{Error: "File is too large"})
			return
		}
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "No file uploaded"})
		return
	}
	if header.Size > s.deps.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{Error: "File is too large"})
		return
	}
	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Failed to read upload"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Failed to read upload"})
		return
	}

	sel := services.Selection{
		Name:        filepath.Base(header.Filename),
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	if err := s.entry(c).controller.SelectFile(sel); err != nil {
		c.JSON(statusFor(err), models.SelectionResponse{Message: messageOf(err)})
		return
	}
	c.JSON(http.StatusOK, models.SelectionResponse{Name: sel.Name})
}

func (s *Server) upload(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.deps.UploadTimeout)
	defer cancel()

	e := s.entry(c)
	err := e.controller.Upload(ctx)
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	c.JSON(status, e.controller.View())
}

// uploadEvents streams controller views as server-sent events until an
// upload that was observed in flight has finished, or the client leaves.
func (s *Server) uploadEvents(c *gin.Context) {
	ctrl := s.entry(c).controller
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.deps.UploadTimeout)
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	seenBusy := false
	for {
		changed := ctrl.Changed()
		view := ctrl.View()
		c.SSEvent("view", view)
		c.Writer.Flush()

		busy := view.State == services.StateUploading || view.State == services.StateLoading
		if busy {
			seenBusy = true
		} else if seenBusy {
			return
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) thumbnailPNG(c *gin.Context) {
	sess, _ := currentSession(c)
	path := strings.TrimPrefix(c.Param("path"), "/")
	if !strings.HasPrefix(path, objectstore.UserPrefix(sess.UID)+"/") {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Document not found"})
		return
	}

	e := s.entry(c)
	doc, ok := e.controller.Document(path)
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Document not found"})
		return
	}

	surface := e.thumbnails.Render(c.Request.Context(), doc.Path, doc.URL)
	c.Header("Content-Type", "image/png")
	c.Header("Cache-Control", "private, max-age=60")
	c.Status(http.StatusOK)
	if err := surface.PNG(c.Writer); err != nil {
		slog.Warn("Failed to encode thumbnail.", "documentPath", doc.Path, "error", err)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrUploadInProgress):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	switch services.KindOf(err) {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindAuth:
		return http.StatusUnauthorized
	case services.KindStore:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func messageOf(err error) string {
	var e *services.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
