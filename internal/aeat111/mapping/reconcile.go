package mapping

import "sort"

// LinkDelta lists ids to link and unlink.
type LinkDelta struct {
	Add    []int64
	Remove []int64
}

func (d LinkDelta) Empty() bool { return len(d.Add) == 0 && len(d.Remove) == 0 }

// Delta is the change that brings a mapping in line with its template.
// Nil scalar pointers mean "unchanged".
type Delta struct {
	Type       *Type
	Rule       *Rule
	Field      *string
	TemplateID *int64
	Accounts   LinkDelta
	Codes      LinkDelta
}

// Empty reports whether applying the delta changes nothing.
func (d Delta) Empty() bool {
	return d.Type == nil && d.Rule == nil && d.Field == nil && d.TemplateID == nil &&
		d.Accounts.Empty() && d.Codes.Empty()
}

// Diff returns the symmetric difference between previous and next as the
// ids to add and remove, both sorted.
func Diff(previous, next []int64) LinkDelta {
	prev := toSet(previous)
	nxt := toSet(next)
	var d LinkDelta
	for id := range nxt {
		if _, ok := prev[id]; !ok {
			d.Add = append(d.Add, id)
		}
	}
	for id := range prev {
		if _, ok := nxt[id]; !ok {
			d.Remove = append(d.Remove, id)
		}
	}
	sortIDs(d.Add)
	sortIDs(d.Remove)
	return d
}

// Reconcile compares a template with the mapping instantiated from it.
// accounts and codes are the company ids the template's account and tax code
// templates resolve to. Links added by hand are left alone: only template
// sourced links are removed, and ids already linked by hand are not re-added.
// ok is false when there is no mapping yet and the template resolves to
// nothing, in which case no mapping should be created.
func Reconcile(tpl Template, existing *Mapping, accounts, codes []int64) (delta Delta, ok bool) {
	if existing == nil || existing.Type != tpl.Type {
		typ := tpl.Type
		delta.Type = &typ
	}
	if existing == nil || existing.Rule != tpl.Rule {
		rule := tpl.Rule
		delta.Rule = &rule
	}
	if existing == nil || existing.Field != tpl.Field {
		field := tpl.Field
		delta.Field = &field
	}
	if existing == nil || existing.TemplateID == nil || *existing.TemplateID != tpl.ID {
		id := tpl.ID
		delta.TemplateID = &id
	}
	var current Mapping
	if existing != nil {
		current = *existing
	}
	delta.Accounts = reconcileLinks(current.Accounts, accounts)
	delta.Codes = reconcileLinks(current.Codes, codes)
	if existing == nil && len(delta.Accounts.Add) == 0 && len(delta.Codes.Add) == 0 {
		return Delta{}, false
	}
	return delta, true
}

func reconcileLinks(links []Link, next []int64) LinkDelta {
	var fromTemplate []int64
	manual := map[int64]struct{}{}
	for _, l := range links {
		if l.Source == SourceManual {
			manual[l.ID] = struct{}{}
			continue
		}
		fromTemplate = append(fromTemplate, l.ID)
	}
	d := Diff(fromTemplate, next)
	add := d.Add[:0]
	for _, id := range d.Add {
		if _, ok := manual[id]; !ok {
			add = append(add, id)
		}
	}
	d.Add = add
	if len(d.Add) == 0 {
		d.Add = nil
	}
	return d
}

// Apply returns m with the delta applied. New links are template sourced.
func Apply(m Mapping, d Delta) Mapping {
	if d.Type != nil {
		m.Type = *d.Type
	}
	if d.Rule != nil {
		m.Rule = *d.Rule
	}
	if d.Field != nil {
		m.Field = *d.Field
	}
	if d.TemplateID != nil {
		id := *d.TemplateID
		m.TemplateID = &id
	}
	m.Accounts = applyLinks(m.Accounts, d.Accounts)
	m.Codes = applyLinks(m.Codes, d.Codes)
	return m
}

func applyLinks(links []Link, d LinkDelta) []Link {
	remove := toSet(d.Remove)
	out := make([]Link, 0, len(links)+len(d.Add))
	for _, l := range links {
		if _, ok := remove[l.ID]; ok && l.Source != SourceManual {
			continue
		}
		out = append(out, l)
	}
	for _, id := range d.Add {
		out = append(out, Link{ID: id, Source: SourceTemplate})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func toSet(ids []int64) map[int64]struct{} {
	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
