package services

// MaxPage is the highest page number a listing accepts.
const MaxPage = 1_000_000

// PageRequest is a 1-based page number and page size. Zero values select
// the defaults.
type PageRequest struct {
	Page  int
	Limit int
}

// Page is a slice of results with paging metadata.
type Page[T any] struct {
	Items []T `json:"items"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// Paging holds the default and maximum page sizes.
type Paging struct {
	DefaultLimit int
	MaxLimit     int
}

func (p Paging) normalize(req PageRequest) (page, limit, offset int) {
	defaultLimit := p.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = 20
	}
	maxLimit := p.MaxLimit
	if maxLimit <= 0 {
		maxLimit = 100
	}

	page = req.Page
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	limit = req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit, (page - 1) * limit
}
