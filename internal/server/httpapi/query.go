package httpapi

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/filevault/internal/server/repositories/associations"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// listQuery is the parsed form of the file-listing query string.
type listQuery struct {
	filter   associations.ListFilter
	page     int
	pageSize int
}

// parseListQuery reads filtering, ordering and pagination parameters.
// Unparseable numbers and dates are ignored rather than rejected, as are
// unknown ordering fields.
func parseListQuery(c echo.Context) listQuery {
	q := listQuery{page: 1, pageSize: defaultPageSize}
	f := &q.filter

	f.Search = c.QueryParam("search")
	f.Filename = c.QueryParam("filename")
	f.Tag = c.QueryParam("tags")
	f.MimeType = c.QueryParam("mime_type")

	if v, err := strconv.ParseInt(c.QueryParam("size_min"), 10, 64); err == nil {
		f.SizeMin = &v
	}
	if v, err := strconv.ParseInt(c.QueryParam("size_max"), 10, 64); err == nil {
		f.SizeMax = &v
	}
	if t, ok := parseTime(c.QueryParam("uploaded_after")); ok {
		f.UploadedAfter = &t
	}
	if t, ok := parseTime(c.QueryParam("uploaded_before")); ok {
		f.UploadedBefore = &t
	}

	f.OrderBy, f.OrderDesc = parseOrdering(c.QueryParam("ordering"))

	if v, err := strconv.Atoi(c.QueryParam("page")); err == nil && v > 0 {
		q.page = v
	}
	if v, err := strconv.Atoi(c.QueryParam("page_size")); err == nil && v > 0 {
		q.pageSize = min(v, maxPageSize)
	}

	f.Limit = q.pageSize
	f.Offset = (q.page - 1) * q.pageSize
	return q
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseOrdering maps the ordering parameter to a whitelisted sort column. A
// leading "-" means descending. Unknown fields fall back to newest-first.
func parseOrdering(s string) (string, bool) {
	desc := strings.HasPrefix(s, "-")
	field := strings.TrimPrefix(s, "-")

	switch field {
	case "original_filename":
		return associations.OrderByFilename, desc
	case "file__size", "size":
		return associations.OrderBySize, desc
	case "uploaded_at":
		return associations.OrderByUploadedAt, desc
	default:
		// newest first
		return associations.OrderByUploadedAt, true
	}
}

// paginated is the standard list envelope.
type paginated struct {
	Count    int64   `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  any     `json:"results"`
}

// paginate builds the envelope, deriving next/previous links from the request
// URL by swapping the page parameter.
func paginate(c echo.Context, q listQuery, count int64, results any) paginated {
	p := paginated{Count: count, Results: results}

	lastPage := int((count + int64(q.pageSize) - 1) / int64(q.pageSize))
	if q.page < lastPage {
		p.Next = pageURL(c.Request().URL, q.page+1)
	}
	if q.page > 1 {
		p.Previous = pageURL(c.Request().URL, q.page-1)
	}
	return p
}

func pageURL(u *url.URL, page int) *string {
	copied := *u
	values := copied.Query()
	values.Set("page", strconv.Itoa(page))
	copied.RawQuery = values.Encode()
	s := copied.String()
	return &s
}
