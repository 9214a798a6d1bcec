package domain

import "fmt"

// PageRequest selects one zero-based page of results.
type PageRequest struct {
	Number int
	Size   int
}

// Validate reports ErrInvalidPage for a negative page number or a
// non-positive page size.
func (p PageRequest) Validate() error {
	if p.Number < 0 {
		return fmt.Errorf("%w: page %d", ErrInvalidPage, p.Number)
	}
	if p.Size <= 0 {
		return fmt.Errorf("%w: page size %d", ErrInvalidPage, p.Size)
	}
	return nil
}

// Offset is the number of records that precede the page.
func (p PageRequest) Offset() int64 {
	return int64(p.Number) * int64(p.Size)
}

// OrderPage is one page of a customer's orders.
type OrderPage struct {
	Content       []Order
	Number        int
	Size          int
	TotalElements int64
	TotalPages    int
}

// NewOrderPage assembles a page and derives TotalPages from the total count.
func NewOrderPage(content []Order, req PageRequest, totalElements int64) OrderPage {
	if content == nil {
		content = []Order{}
	}
	pages := 0
	if req.Size > 0 {
		pages = int((totalElements + int64(req.Size) - 1) / int64(req.Size))
	}
	return OrderPage{
		Content:       content,
		Number:        req.Number,
		Size:          req.Size,
		TotalElements: totalElements,
		TotalPages:    pages,
	}
}
