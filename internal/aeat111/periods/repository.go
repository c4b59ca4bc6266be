package periods

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository loads accounting periods.
type Repository interface {
	ListWithin(ctx context.Context, companyID int64, window Range) ([]Period, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// ListWithin returns the company periods fully contained in window.
func (r *repository) ListWithin(ctx context.Context, companyID int64, window Range) ([]Period, error) {
	rows, err := r.db.Query(ctx, `SELECT id, company_id, name, start_date, end_date
FROM account_periods WHERE company_id=$1 AND start_date >= $2 AND end_date <= $3 ORDER BY start_date`,
		companyID, window.Start, window.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		var p Period
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.Name, &p.StartDate, &p.EndDate); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
