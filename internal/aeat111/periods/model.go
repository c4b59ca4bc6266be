package periods

import (
	"errors"
	"time"
)

// ErrInvalidCode indicates a period code that is neither a quarter nor a month.
var ErrInvalidCode = errors.New("aeat111/periods: invalid period code")

// Period is an accounting period owned by a company.
type Period struct {
	ID        int64
	CompanyID int64
	Name      string
	StartDate time.Time
	EndDate   time.Time
}

// Range is an inclusive date window expressed in whole days.
type Range struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether p lies completely inside the range.
func (r Range) Contains(p Period) bool {
	return !p.StartDate.Before(r.Start) && !p.EndDate.After(r.End)
}
