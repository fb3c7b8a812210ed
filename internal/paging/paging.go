// Package paging validates listing parameters and maps client sort keys to
// storage columns.
package paging

import (
	"errors"
	"fmt"
	"strings"
)

const (
	MinPage = 1
	MaxPage = 10000
	MinSize = 1
	MaxSize = 100
)

type Direction string

const (
	Ascending  Direction = "ASC"
	Descending Direction = "DESC"
)

var (
	ErrPageTooLarge = fmt.Errorf("page must not exceed %d", MaxPage)
	ErrSizeTooLarge = fmt.Errorf("size must not exceed %d", MaxSize)
)

const defaultSortField = "created_date"

// sortFieldWhitelist maps client-facing sort keys to storage columns. Keys
// outside the map fall back to the default; clients can never sort by an
// arbitrary column.
var sortFieldWhitelist = map[string]string{
	"datetime":        "created_date",
	"createdDate":     "created_date",
	"lastChangedDate": "last_changed_date",
	"topicId":         "topic_id",
	"comment":         "comment",
}

// Page is a validated page request.
type Page struct {
	Page      int
	Size      int
	SortField string
	Direction Direction
}

// Offset is the number of records to skip for this page.
func (p Page) Offset() int {
	return (p.Page - 1) * p.Size
}

// Normalize applies the page and size bounds, resolves the sort column and
// direction. Values above the ceilings are rejected, values below the floors
// are clamped.
func Normalize(rawPage, rawSize int, sortBy, sortOrder string) (Page, error) {
	page := rawPage
	switch {
	case rawPage > MaxPage:
		return Page{}, ErrPageTooLarge
	case rawPage < MinPage:
		page = MinPage
	}

	size := rawSize
	switch {
	case rawSize > MaxSize:
		return Page{}, ErrSizeTooLarge
	case rawSize < MinSize:
		size = MinSize
	}

	sortField, ok := sortFieldWhitelist[sortBy]
	if !ok {
		sortField = defaultSortField
	}

	direction := Descending
	if strings.EqualFold(sortOrder, "asc") {
		direction = Ascending
	}

	return Page{Page: page, Size: size, SortField: sortField, Direction: direction}, nil
}

// TotalPages is 0 when nothing matched, otherwise count divided by size
// rounded up.
func TotalPages(count int64, size int) int {
	if count == 0 {
		return 0
	}
	return int((count + int64(size) - 1) / int64(size))
}

// IsInvalidArgument reports whether err is one of the normalizer's rejection
// errors, as opposed to an infrastructure failure.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrPageTooLarge) || errors.Is(err, ErrSizeTooLarge)
}
