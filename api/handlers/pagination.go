package handlers

import (
	"net/http"
	"strconv"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// PaginationParams is the limit/offset window of a list request.
type PaginationParams struct {
	Limit  int
	Offset int
}

// PaginatedResponse is a page of items plus paging metadata.
type PaginatedResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ParsePagination reads limit and offset from the query string. Invalid values
// fall back to defaultLimit and 0; limit is capped at MaxLimit.
func ParsePagination(r *http.Request, defaultLimit int) PaginationParams {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}

	limit := defaultLimit
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > MaxLimit {
				limit = MaxLimit
			}
		}
	}

	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return PaginationParams{Limit: limit, Offset: offset}
}

// Paginate returns the page of items selected by p. Items is never nil.
func Paginate[T any](items []T, p PaginationParams) PaginatedResponse[T] {
	start := min(p.Offset, len(items))
	end := min(start+p.Limit, len(items))
	page := make([]T, end-start)
	copy(page, items[start:end])
	return PaginatedResponse[T]{
		Items:  page,
		Total:  len(items),
		Limit:  p.Limit,
		Offset: p.Offset,
	}
}
