package mapping

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/aeat111/internal/platform/db"
)

const (
	uniqueViolation    = "23505"
	mappingFieldIndex  = "aeat111_mappings_company_field_key"
	templateFieldIndex = "aeat111_template_mappings_field_key"
	mappingColumns     = `id, company_id, field, type, COALESCE(debit_credit_type, ''), template_id, created_at, updated_at`
	templateColumns    = `id, field, type, COALESCE(debit_credit_type, ''), created_at`
)

// TxRepository exposes the transactional mapping operations.
type TxRepository interface {
	Get(ctx context.Context, id int64) (Mapping, error)
	ListVisible(ctx context.Context, companyID int64) ([]Mapping, error)
	List(ctx context.Context, companyID *int64) ([]Mapping, error)
	Insert(ctx context.Context, m Mapping) (Mapping, error)
	Update(ctx context.Context, m Mapping) error
	Delete(ctx context.Context, id int64) error
	ApplyDelta(ctx context.Context, id int64, d Delta) error
	ListTemplates(ctx context.Context) ([]Template, error)
	InsertTemplate(ctx context.Context, t Template) (Template, error)
	AccountsFromTemplates(ctx context.Context, companyID int64, templateIDs []int64) ([]int64, error)
	CodesFromTemplates(ctx context.Context, companyID int64, templateIDs []int64) ([]int64, error)
}

// Repository persists mappings and templates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("aeat111/mapping: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Get(ctx context.Context, id int64) (Mapping, error) {
	m, err := scanMapping(r.tx.QueryRow(ctx, `SELECT `+mappingColumns+` FROM aeat111_mappings WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Mapping{}, ErrMappingNotFound
		}
		return Mapping{}, err
	}
	if err := r.loadLinks(ctx, []*Mapping{&m}, nil); err != nil {
		return Mapping{}, err
	}
	return m, nil
}

// ListVisible returns the company's mappings and the unowned defaults, with
// links restricted to accounts and codes the company can see.
func (r *txRepository) ListVisible(ctx context.Context, companyID int64) ([]Mapping, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+mappingColumns+` FROM aeat111_mappings
WHERE company_id=$1 OR company_id IS NULL ORDER BY company_id NULLS FIRST, id`, companyID)
	if err != nil {
		return nil, err
	}
	out, err := collectMappings(rows)
	if err != nil {
		return nil, err
	}
	ptrs := make([]*Mapping, len(out))
	for i := range out {
		ptrs[i] = &out[i]
	}
	return out, r.loadLinks(ctx, ptrs, &companyID)
}

func (r *txRepository) List(ctx context.Context, companyID *int64) ([]Mapping, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+mappingColumns+` FROM aeat111_mappings
WHERE ($1::bigint IS NULL AND company_id IS NULL) OR company_id=$1 ORDER BY field`, companyID)
	if err != nil {
		return nil, err
	}
	out, err := collectMappings(rows)
	if err != nil {
		return nil, err
	}
	ptrs := make([]*Mapping, len(out))
	for i := range out {
		ptrs[i] = &out[i]
	}
	return out, r.loadLinks(ctx, ptrs, nil)
}

func (r *txRepository) Insert(ctx context.Context, m Mapping) (Mapping, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO aeat111_mappings (company_id, field, type, debit_credit_type, template_id)
VALUES ($1, $2, $3, NULLIF($4, ''), $5) RETURNING id, created_at, updated_at`,
		m.CompanyID, m.Field, m.Type, m.Rule, m.TemplateID).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return Mapping{}, translate(err)
	}
	if err := r.insertLinks(ctx, "aeat111_mapping_accounts", "account_id", m.ID, m.Accounts); err != nil {
		return Mapping{}, err
	}
	if err := r.insertLinks(ctx, "aeat111_mapping_codes", "code_id", m.ID, m.Codes); err != nil {
		return Mapping{}, err
	}
	return m, nil
}

// Update rewrites scalar columns and replaces every link of the mapping.
func (r *txRepository) Update(ctx context.Context, m Mapping) error {
	tag, err := r.tx.Exec(ctx, `UPDATE aeat111_mappings SET company_id=$2, field=$3, type=$4,
debit_credit_type=NULLIF($5, ''), template_id=$6, updated_at=NOW() WHERE id=$1`,
		m.ID, m.CompanyID, m.Field, m.Type, m.Rule, m.TemplateID)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMappingNotFound
	}
	for _, table := range []string{"aeat111_mapping_accounts", "aeat111_mapping_codes"} {
		if _, err := r.tx.Exec(ctx, `DELETE FROM `+table+` WHERE mapping_id=$1`, m.ID); err != nil {
			return err
		}
	}
	if err := r.insertLinks(ctx, "aeat111_mapping_accounts", "account_id", m.ID, m.Accounts); err != nil {
		return err
	}
	return r.insertLinks(ctx, "aeat111_mapping_codes", "code_id", m.ID, m.Codes)
}

func (r *txRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM aeat111_mappings WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMappingNotFound
	}
	return nil
}

// ApplyDelta writes only what the delta changes.
func (r *txRepository) ApplyDelta(ctx context.Context, id int64, d Delta) error {
	if d.Type != nil || d.Rule != nil || d.Field != nil || d.TemplateID != nil {
		_, err := r.tx.Exec(ctx, `UPDATE aeat111_mappings SET
	type = COALESCE($2, type),
	debit_credit_type = CASE WHEN $3::boolean THEN NULLIF($4, '') ELSE debit_credit_type END,
	field = COALESCE($5, field),
	template_id = COALESCE($6, template_id),
	updated_at = NOW()
WHERE id=$1`, id, d.Type, d.Rule != nil, deref(d.Rule), d.Field, d.TemplateID)
		if err != nil {
			return translate(err)
		}
	}
	if err := r.applyLinkDelta(ctx, "aeat111_mapping_accounts", "account_id", id, d.Accounts); err != nil {
		return err
	}
	return r.applyLinkDelta(ctx, "aeat111_mapping_codes", "code_id", id, d.Codes)
}

func (r *txRepository) applyLinkDelta(ctx context.Context, table, column string, id int64, d LinkDelta) error {
	if len(d.Remove) > 0 {
		_, err := r.tx.Exec(ctx, `DELETE FROM `+table+` WHERE mapping_id=$1 AND source='template' AND `+column+` = ANY($2)`, id, d.Remove)
		if err != nil {
			return err
		}
	}
	links := make([]Link, 0, len(d.Add))
	for _, added := range d.Add {
		links = append(links, Link{ID: added, Source: SourceTemplate})
	}
	return r.insertLinks(ctx, table, column, id, links)
}

func (r *txRepository) insertLinks(ctx context.Context, table, column string, id int64, links []Link) error {
	if len(links) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range links {
		source := l.Source
		if source == "" {
			source = SourceManual
		}
		batch.Queue(`INSERT INTO `+table+` (mapping_id, `+column+`, source) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`, id, l.ID, source)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

// loadLinks fills Accounts and Codes. When companyID is set, links to
// accounts or codes of other companies are skipped.
func (r *txRepository) loadLinks(ctx context.Context, mappings []*Mapping, companyID *int64) error {
	if len(mappings) == 0 {
		return nil
	}
	index := map[int64]*Mapping{}
	ids := make([]int64, 0, len(mappings))
	for _, m := range mappings {
		index[m.ID] = m
		ids = append(ids, m.ID)
	}
	accounts, err := r.tx.Query(ctx, `SELECT l.mapping_id, l.account_id, l.source
FROM aeat111_mapping_accounts l JOIN accounts a ON a.id = l.account_id
WHERE l.mapping_id = ANY($1) AND ($2::bigint IS NULL OR a.company_id IS NULL OR a.company_id=$2)
ORDER BY l.mapping_id, l.account_id`, ids, companyID)
	if err != nil {
		return err
	}
	if err := collectLinks(accounts, index, func(m *Mapping, l Link) { m.Accounts = append(m.Accounts, l) }); err != nil {
		return err
	}
	codes, err := r.tx.Query(ctx, `SELECT l.mapping_id, l.code_id, l.source
FROM aeat111_mapping_codes l JOIN account_tax_codes c ON c.id = l.code_id
WHERE l.mapping_id = ANY($1) AND ($2::bigint IS NULL OR c.company_id IS NULL OR c.company_id=$2)
ORDER BY l.mapping_id, l.code_id`, ids, companyID)
	if err != nil {
		return err
	}
	return collectLinks(codes, index, func(m *Mapping, l Link) { m.Codes = append(m.Codes, l) })
}

func (r *txRepository) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+templateColumns+` FROM aeat111_template_mappings ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Template
	index := map[int64]int{}
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.Field, &t.Type, &t.Rule, &t.CreatedAt); err != nil {
			return nil, err
		}
		index[t.ID] = len(out)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, q := range []struct {
		query string
		add   func(t *Template, id int64)
	}{
		{`SELECT mapping_id, account_template_id FROM aeat111_template_mapping_accounts ORDER BY account_template_id`,
			func(t *Template, id int64) { t.AccountTemplateIDs = append(t.AccountTemplateIDs, id) }},
		{`SELECT mapping_id, code_template_id FROM aeat111_template_mapping_codes ORDER BY code_template_id`,
			func(t *Template, id int64) { t.CodeTemplateIDs = append(t.CodeTemplateIDs, id) }},
	} {
		linkRows, err := r.tx.Query(ctx, q.query)
		if err != nil {
			return nil, err
		}
		for linkRows.Next() {
			var mappingID, id int64
			if err := linkRows.Scan(&mappingID, &id); err != nil {
				linkRows.Close()
				return nil, err
			}
			if i, ok := index[mappingID]; ok {
				q.add(&out[i], id)
			}
		}
		linkRows.Close()
		if err := linkRows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *txRepository) InsertTemplate(ctx context.Context, t Template) (Template, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO aeat111_template_mappings (field, type, debit_credit_type)
VALUES ($1, $2, NULLIF($3, '')) RETURNING id, created_at`, t.Field, t.Type, t.Rule).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return Template{}, translate(err)
	}
	batch := &pgx.Batch{}
	for _, id := range t.AccountTemplateIDs {
		batch.Queue(`INSERT INTO aeat111_template_mapping_accounts (mapping_id, account_template_id) VALUES ($1, $2)`, t.ID, id)
	}
	for _, id := range t.CodeTemplateIDs {
		batch.Queue(`INSERT INTO aeat111_template_mapping_codes (mapping_id, code_template_id) VALUES ($1, $2)`, t.ID, id)
	}
	if batch.Len() > 0 {
		if err := r.tx.SendBatch(ctx, batch).Close(); err != nil {
			return Template{}, err
		}
	}
	return t, nil
}

func (r *txRepository) AccountsFromTemplates(ctx context.Context, companyID int64, templateIDs []int64) ([]int64, error) {
	return r.idsFromTemplates(ctx, `accounts`, companyID, templateIDs)
}

func (r *txRepository) CodesFromTemplates(ctx context.Context, companyID int64, templateIDs []int64) ([]int64, error) {
	return r.idsFromTemplates(ctx, `account_tax_codes`, companyID, templateIDs)
}

func (r *txRepository) idsFromTemplates(ctx context.Context, table string, companyID int64, templateIDs []int64) ([]int64, error) {
	if len(templateIDs) == 0 {
		return nil, nil
	}
	rows, err := r.tx.Query(ctx, `SELECT id FROM `+table+`
WHERE template_id = ANY($1) AND (company_id=$2 OR company_id IS NULL) ORDER BY id`, templateIDs, companyID)
	if err != nil {
		return nil, fmt.Errorf("aeat111/mapping: resolve %s templates: %w", table, err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func scanMapping(row pgx.Row) (Mapping, error) {
	var m Mapping
	err := row.Scan(&m.ID, &m.CompanyID, &m.Field, &m.Type, &m.Rule, &m.TemplateID, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func collectMappings(rows pgx.Rows) ([]Mapping, error) {
	defer rows.Close()
	var out []Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func collectLinks(rows pgx.Rows, index map[int64]*Mapping, add func(*Mapping, Link)) error {
	defer rows.Close()
	for rows.Next() {
		var (
			mappingID int64
			l         Link
		)
		if err := rows.Scan(&mappingID, &l.ID, &l.Source); err != nil {
			return err
		}
		if m, ok := index[mappingID]; ok {
			add(m, l)
		}
	}
	return rows.Err()
}

func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case mappingFieldIndex:
			return fmt.Errorf("%w: %s", ErrDuplicateMapping, pgErr.Detail)
		case templateFieldIndex:
			return fmt.Errorf("%w: %s", ErrDuplicateTemplate, pgErr.Detail)
		}
	}
	return err
}

func deref(r *Rule) string {
	if r == nil {
		return ""
	}
	return string(*r)
}
