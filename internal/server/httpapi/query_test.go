package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrijs2005/filevault/internal/server/repositories/associations"
)

func newListContext(t *testing.T, query string) echo.Context {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/files?"+query, nil)
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec)
}

func TestParseListQuery_Defaults(t *testing.T) {
	q := parseListQuery(newListContext(t, ""))

	assert.Equal(t, 1, q.page)
	assert.Equal(t, defaultPageSize, q.pageSize)
	assert.Equal(t, associations.OrderByUploadedAt, q.filter.OrderBy)
	assert.True(t, q.filter.OrderDesc)
	assert.Equal(t, 0, q.filter.Offset)
}

func TestParseListQuery_Filters(t *testing.T) {
	q := parseListQuery(newListContext(t,
		"search=rep&filename=a.txt&tags=work&mime_type=text/plain&size_min=10&size_max=100"))

	f := q.filter
	assert.Equal(t, "rep", f.Search)
	assert.Equal(t, "a.txt", f.Filename)
	assert.Equal(t, "work", f.Tag)
	assert.Equal(t, "text/plain", f.MimeType)
	assert.Equal(t, int64(10), *f.SizeMin)
	assert.Equal(t, int64(100), *f.SizeMax)
}

func TestParseListQuery_InvalidValuesIgnored(t *testing.T) {
	q := parseListQuery(newListContext(t,
		"size_min=abc&size_max=&uploaded_after=notadate&page=zero&page_size=-5"))

	f := q.filter
	assert.Nil(t, f.SizeMin)
	assert.Nil(t, f.SizeMax)
	assert.Nil(t, f.UploadedAfter)
	assert.Equal(t, 1, q.page)
	assert.Equal(t, defaultPageSize, q.pageSize)
}

func TestParseListQuery_Dates(t *testing.T) {
	q := parseListQuery(newListContext(t,
		"uploaded_after=2026-01-15&uploaded_before=2026-02-01T12:00:00Z"))

	f := q.filter
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), *f.UploadedAfter)
	assert.Equal(t, time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC), *f.UploadedBefore)
}

func TestParseListQuery_Ordering(t *testing.T) {
	tests := []struct {
		name     string
		ordering string
		wantBy   string
		wantDesc bool
	}{
		{"ascending filename", "original_filename", associations.OrderByFilename, false},
		{"descending filename", "-original_filename", associations.OrderByFilename, true},
		{"size via join path", "file__size", associations.OrderBySize, false},
		{"descending size", "-size", associations.OrderBySize, true},
		{"uploaded_at", "uploaded_at", associations.OrderByUploadedAt, false},
		{"unknown falls back to newest first", "secret_column", associations.OrderByUploadedAt, true},
		{"empty falls back to newest first", "", associations.OrderByUploadedAt, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := parseListQuery(newListContext(t, "ordering="+tt.ordering))
			assert.Equal(t, tt.wantBy, q.filter.OrderBy)
			assert.Equal(t, tt.wantDesc, q.filter.OrderDesc)
		})
	}
}

func TestParseListQuery_Pagination(t *testing.T) {
	q := parseListQuery(newListContext(t, "page=3&page_size=10"))

	assert.Equal(t, 3, q.page)
	assert.Equal(t, 10, q.pageSize)
	assert.Equal(t, 10, q.filter.Limit)
	assert.Equal(t, 20, q.filter.Offset)
}

func TestParseListQuery_PageSizeCapped(t *testing.T) {
	q := parseListQuery(newListContext(t, "page_size=5000"))
	assert.Equal(t, maxPageSize, q.pageSize)
}

func TestPaginate_Links(t *testing.T) {
	c := newListContext(t, "page=2&page_size=2")
	q := parseListQuery(c)

	p := paginate(c, q, 5, []string{"c", "d"})

	assert.Equal(t, int64(5), p.Count)
	if assert.NotNil(t, p.Next) {
		assert.Contains(t, *p.Next, "page=3")
	}
	if assert.NotNil(t, p.Previous) {
		assert.Contains(t, *p.Previous, "page=1")
	}
}

func TestPaginate_SinglePage(t *testing.T) {
	c := newListContext(t, "")
	q := parseListQuery(c)

	p := paginate(c, q, 3, []string{"a", "b", "c"})

	assert.Nil(t, p.Next)
	assert.Nil(t, p.Previous)
}
