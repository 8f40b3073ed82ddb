package leads

import (
	"net/url"
	"strconv"
	"strings"
)

// Sort keys accepted by list and export.
const (
	SortUpdatedAsc  = "updatedAsc"
	SortUpdatedDesc = "updatedDesc"
	SortBudgetAsc   = "budgetAsc"
	SortBudgetDesc  = "budgetDesc"
	SortNameAsc     = "nameAsc"
	SortNameDesc    = "nameDesc"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// ListFilter selects and orders buyers. PageSize 0 means unpaginated.
type ListFilter struct {
	City         string
	PropertyType string
	Status       string
	Timeline     string
	Search       string
	Sort         string
	Page         int
	PageSize     int
}

// Offset is the number of rows skipped for the current page.
func (f ListFilter) Offset() int {
	if f.PageSize <= 0 || f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

// ParseListFilter reads filters from a query string. Enum filters that are
// not a known value are ignored, as is an unknown sort.
func ParseListFilter(q url.Values, paged bool) ListFilter {
	f := ListFilter{
		City:         enumParam(q.Get("city"), Cities),
		PropertyType: enumParam(q.Get("propertyType"), PropertyTypes),
		Status:       enumParam(q.Get("status"), Statuses),
		Timeline:     enumParam(q.Get("timeline"), Timelines),
		Search:       strings.TrimSpace(q.Get("search")),
		Sort:         q.Get("sort"),
	}
	if _, ok := sortClauses[f.Sort]; !ok {
		f.Sort = SortUpdatedDesc
	}
	if !paged {
		return f
	}
	f.Page, f.PageSize = 1, defaultPageSize
	if page, err := strconv.Atoi(q.Get("page")); err == nil && page > 0 {
		f.Page = page
	}
	if size, err := strconv.Atoi(q.Get("pageSize")); err == nil && size > 0 {
		f.PageSize = min(size, maxPageSize)
	}
	return f
}

// sortClauses maps sort keys to ORDER BY clauses.
var sortClauses = map[string]string{
	SortUpdatedAsc:  "updated_at ASC",
	SortUpdatedDesc: "updated_at DESC",
	SortBudgetAsc:   "budget_min ASC",
	SortBudgetDesc:  "budget_max DESC",
	SortNameAsc:     "full_name ASC",
	SortNameDesc:    "full_name DESC",
}

// Pagination describes the page returned by List.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination computes page metadata for total matching rows.
func NewPagination(f ListFilter, total int) Pagination {
	p := Pagination{Page: f.Page, PageSize: f.PageSize, Total: total}
	if f.PageSize > 0 {
		p.TotalPages = (total + f.PageSize - 1) / f.PageSize
	}
	return p
}
