package periods

import (
	"context"
	"fmt"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Select resolves the declaration window and returns the ids of the company
// periods that fall completely inside it.
func (s *Service) Select(ctx context.Context, companyID int64, year int, code string) (Range, []int64, error) {
	window, err := Resolve(year, code)
	if err != nil {
		return Range{}, nil, err
	}
	found, err := s.repo.ListWithin(ctx, companyID, window)
	if err != nil {
		return Range{}, nil, fmt.Errorf("aeat111/periods: list: %w", err)
	}
	ids := make([]int64, 0, len(found))
	for _, p := range found {
		if p.CompanyID != companyID || !window.Contains(p) {
			continue
		}
		ids = append(ids, p.ID)
	}
	return window, ids, nil
}
