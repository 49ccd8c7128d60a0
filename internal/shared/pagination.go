package shared

import (
	"net/url"
	"strconv"
)

// PageParam is the query parameter carrying the 1-based page number.
const PageParam = "page"

// Pagination describes one page of an admin listing.
type Pagination struct {
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

// NewPagination computes pagination metadata. A zero total leaves
// TotalPages at zero; listings set it once the backend reports a count.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	totalPages := (total + perPage - 1) / perPage
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// PageFromQuery reads PageParam, defaulting to the first page.
func PageFromQuery(q url.Values) int {
	page, err := strconv.Atoi(q.Get(PageParam))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// PageURL returns base with its page parameter replaced. Other filters are
// kept.
func PageURL(base *url.URL, page int) string {
	q := base.Query()
	q.Set(PageParam, strconv.Itoa(page))
	u := url.URL{Path: base.Path, RawQuery: q.Encode()}
	return u.String()
}

// Offset is the index of the first item on the page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// HasPrev reports whether a previous page exists.
func (p Pagination) HasPrev() bool { return p.Page > 1 }

// HasNext reports whether a next page exists.
func (p Pagination) HasNext() bool { return p.Page < p.TotalPages }
