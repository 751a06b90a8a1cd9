package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/filevault/internal/server/models"
)

const (
	maxFilenameLen = 255
	maxTagLen      = 50
)

// parseTags decodes the tags form field, a JSON array of strings.
func parseTags(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("tags must be a JSON array of strings")
	}
	for _, tag := range tags {
		if len(tag) > maxTagLen {
			return nil, fmt.Errorf("tag %q exceeds %d characters", tag, maxTagLen)
		}
	}
	return tags, nil
}

func (s *Server) handleUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file field is required")
	}
	if len(fh.Filename) > maxFilenameLen {
		return echo.NewHTTPError(http.StatusBadRequest, "filename too long")
	}
	if fh.Size > s.maxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
	}
	tags, err := parseTags(c.FormValue("tags"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}
	defer src.Close()

	rec, err := s.vault.Upload(c.Request().Context(), GetUserID(c), fh.Filename, src, tags)
	if err != nil {
		s.logger.Error(c.Request().Context(), "upload failed", "filename", fh.Filename, "error", err)
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (s *Server) handleList(c echo.Context) error {
	q := parseListQuery(c)

	records, total, err := s.vault.List(c.Request().Context(), GetUserID(c), q.filter)
	if err != nil {
		s.logger.Error(c.Request().Context(), "list failed", "error", err)
		return httpError(err)
	}
	// pages past the end do not exist; the first page always does
	if len(records) == 0 && q.page > 1 {
		return echo.NewHTTPError(http.StatusNotFound, "page not found")
	}
	if records == nil {
		records = []*models.FileRecord{}
	}
	return c.JSON(http.StatusOK, paginate(c, q, total, records))
}

func fileID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	return id, nil
}

func (s *Server) handleDetail(c echo.Context) error {
	id, err := fileID(c)
	if err != nil {
		return err
	}
	rec, err := s.vault.Get(c.Request().Context(), GetUserID(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleDownload(c echo.Context) error {
	id, err := fileID(c)
	if err != nil {
		return err
	}
	rc, rec, err := s.vault.Download(c.Request().Context(), GetUserID(c), id)
	if err != nil {
		return httpError(err)
	}
	defer rc.Close()

	contentType := "application/octet-stream"
	if rec.MimeType != nil {
		contentType = *rec.MimeType
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", rec.OriginalFilename))
	c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(rec.Size, 10))
	return c.Stream(http.StatusOK, contentType, rc)
}

func (s *Server) handleDelete(c echo.Context) error {
	id, err := fileID(c)
	if err != nil {
		return err
	}
	if err := s.vault.Delete(c.Request().Context(), GetUserID(c), id); err != nil {
		s.logger.Error(c.Request().Context(), "delete failed", "file_id", id, "error", err)
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.vault.Stats(c.Request().Context(), GetUserID(c))
	if err != nil {
		s.logger.Error(c.Request().Context(), "stats failed", "error", err)
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}
