package utils

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Page is a bounded window over a listing endpoint. The only sizeable
// list this service serves is the registration approval queue, so the
// defaults stay small and the cap low.
type Page struct {
	Number int
	Size   int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PageFromQuery reads `page` and `limit` from the query string and
// clamps them into a usable window.
func PageFromQuery(c *fiber.Ctx) Page {
	p := Page{
		Number: c.QueryInt("page", 1),
		Size:   c.QueryInt("limit", defaultPageSize),
	}
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}

func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// Scope applies the window to a query.
func (p Page) Scope(db *gorm.DB) *gorm.DB {
	return db.Offset(p.Offset()).Limit(p.Size)
}

// TotalPages reports how many windows of this size cover total rows.
func (p Page) TotalPages(total int64) int {
	return int((total + int64(p.Size) - 1) / int64(p.Size))
}
