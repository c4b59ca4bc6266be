package mapping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/aeat111/internal/aeat111/layout"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Service manages mappings and resolves them for the calculation.
type Service struct {
	repo     RepositoryPort
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService constructs the mapping service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	_ = v.RegisterValidation("amountfield", func(fl validator.FieldLevel) bool {
		return layout.IsAmountField(fl.Field().String())
	})
	return &Service{repo: repo, validate: v, logger: logger}
}

// Resolve returns the account and tax code lookups visible to a company.
func (s *Service) Resolve(ctx context.Context, companyID int64) (Resolution, error) {
	var res Resolution
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		mappings, err := tx.ListVisible(ctx, companyID)
		if err != nil {
			return err
		}
		res = Resolve(mappings)
		return nil
	})
	return res, err
}

// List returns the mappings owned by companyID, or the defaults when nil.
func (s *Service) List(ctx context.Context, companyID *int64) ([]Mapping, error) {
	var out []Mapping
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.List(ctx, companyID)
		return err
	})
	return out, err
}

// Create stores a manual mapping.
func (s *Service) Create(ctx context.Context, input MappingInput) (Mapping, error) {
	if err := s.check(input); err != nil {
		return Mapping{}, err
	}
	var created Mapping
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.Insert(ctx, fromInput(input))
		return err
	})
	if err != nil {
		return Mapping{}, err
	}
	s.logger.Info("aeat111 mapping created", slog.Int64("mapping_id", created.ID), slog.String("field", created.Field))
	return created, nil
}

// Update replaces a mapping. Links keep the template source when they were
// already template links.
func (s *Service) Update(ctx context.Context, id int64, input MappingInput) (Mapping, error) {
	if err := s.check(input); err != nil {
		return Mapping{}, err
	}
	var updated Mapping
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		next := fromInput(input)
		next.ID = current.ID
		next.TemplateID = current.TemplateID
		next.Accounts = keepSources(current.Accounts, next.Accounts)
		next.Codes = keepSources(current.Codes, next.Codes)
		if err := tx.Update(ctx, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	return updated, err
}

// Delete removes a mapping.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Delete(ctx, id)
	})
}

// Templates lists every template mapping.
func (s *Service) Templates(ctx context.Context) ([]Template, error) {
	var out []Template
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListTemplates(ctx)
		return err
	})
	return out, err
}

// CreateTemplate stores a template mapping.
func (s *Service) CreateTemplate(ctx context.Context, input TemplateInput) (Template, error) {
	if err := s.validate.Struct(input); err != nil {
		return Template{}, validationError(err)
	}
	tpl := Template{
		Field:              input.Field,
		Type:               input.Type,
		Rule:               input.Rule,
		AccountTemplateIDs: input.Accounts,
		CodeTemplateIDs:    input.Codes,
	}
	if tpl.Type == TypeAccount && tpl.Rule == RuleNone {
		tpl.Rule = RuleBoth
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		tpl, err = tx.InsertTemplate(ctx, tpl)
		return err
	})
	return tpl, err
}

// Propagate instantiates template mappings for a company. In create mode
// every template yields a new mapping; in update mode mappings already
// derived from a template are reconciled and only missing ones are created.
func (s *Service) Propagate(ctx context.Context, companyID int64, mode PropagationMode) (PropagationResult, error) {
	if mode != PropagateCreate && mode != PropagateUpdate {
		return PropagationResult{}, fmt.Errorf("%w: unknown propagation mode %q", ErrInvalidMapping, mode)
	}
	var result PropagationResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		templates, err := tx.ListTemplates(ctx)
		if err != nil {
			return err
		}
		byID := make(map[int64]Template, len(templates))
		for _, t := range templates {
			byID[t.ID] = t
		}
		done := map[int64]bool{}
		if mode == PropagateUpdate {
			existing, err := tx.List(ctx, &companyID)
			if err != nil {
				return err
			}
			defaults, err := tx.List(ctx, nil)
			if err != nil {
				return err
			}
			for _, m := range append(existing, defaults...) {
				if m.TemplateID == nil {
					continue
				}
				tpl, ok := byID[*m.TemplateID]
				if !ok {
					continue
				}
				done[tpl.ID] = true
				accounts, codes, err := s.instances(ctx, tx, companyID, tpl)
				if err != nil {
					return err
				}
				current := m
				delta, ok := Reconcile(tpl, &current, accounts, codes)
				if !ok || delta.Empty() {
					continue
				}
				if err := tx.ApplyDelta(ctx, m.ID, delta); err != nil {
					return err
				}
				result.Updated++
			}
		}
		for _, tpl := range templates {
			if done[tpl.ID] {
				continue
			}
			accounts, codes, err := s.instances(ctx, tx, companyID, tpl)
			if err != nil {
				return err
			}
			delta, ok := Reconcile(tpl, nil, accounts, codes)
			if !ok {
				continue
			}
			company := companyID
			created := Apply(Mapping{CompanyID: &company}, delta)
			if _, err := tx.Insert(ctx, created); err != nil {
				return err
			}
			result.Created++
		}
		return nil
	})
	if err != nil {
		return PropagationResult{}, err
	}
	s.logger.Info("aeat111 templates propagated",
		slog.Int64("company_id", companyID),
		slog.String("mode", string(mode)),
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated))
	return result, nil
}

func (s *Service) instances(ctx context.Context, tx TxRepository, companyID int64, tpl Template) ([]int64, []int64, error) {
	accounts, err := tx.AccountsFromTemplates(ctx, companyID, tpl.AccountTemplateIDs)
	if err != nil {
		return nil, nil, err
	}
	codes, err := tx.CodesFromTemplates(ctx, companyID, tpl.CodeTemplateIDs)
	if err != nil {
		return nil, nil, err
	}
	return accounts, codes, nil
}

func (s *Service) check(input MappingInput) error {
	if err := s.validate.Struct(input); err != nil {
		return validationError(err)
	}
	switch input.Type {
	case TypeAccount:
		if len(input.Codes) > 0 {
			return fmt.Errorf("%w: account mappings cannot link tax codes", ErrInvalidMapping)
		}
	case TypeCode:
		if len(input.Accounts) > 0 {
			return fmt.Errorf("%w: code mappings cannot link accounts", ErrInvalidMapping)
		}
		if input.Rule != RuleNone {
			return fmt.Errorf("%w: code mappings take no debit/credit type", ErrInvalidMapping)
		}
	}
	return nil
}

func fromInput(input MappingInput) Mapping {
	m := Mapping{
		CompanyID: input.CompanyID,
		Field:     input.Field,
		Type:      input.Type,
		Rule:      input.Rule,
	}
	if m.Type == TypeAccount && m.Rule == RuleNone {
		m.Rule = RuleBoth
	}
	for _, id := range input.Accounts {
		m.Accounts = append(m.Accounts, Link{ID: id, Source: SourceManual})
	}
	for _, id := range input.Codes {
		m.Codes = append(m.Codes, Link{ID: id, Source: SourceManual})
	}
	return m
}

func keepSources(current, next []Link) []Link {
	sources := make(map[int64]Source, len(current))
	for _, l := range current {
		sources[l.ID] = l.Source
	}
	for i, l := range next {
		if src, ok := sources[l.ID]; ok {
			next[i].Source = src
		}
	}
	return next
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidMapping, strings.Join(parts, ", "))
}
