package aeat111

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrReportNotFound indicates an unknown report id.
	ErrReportNotFound = errors.New("aeat111: report not found")
	// ErrValidation indicates a report that fails its save rules.
	ErrValidation = errors.New("aeat111: validation failed")
	// ErrInvalidTransition indicates an action not allowed from the current state.
	ErrInvalidTransition = errors.New("aeat111: invalid state transition")
	// ErrReadOnly indicates a write to a field the current state freezes.
	ErrReadOnly = errors.New("aeat111: field is read only in this state")
	// ErrWorkPartiesMissing indicates work withholdings declared without parties.
	ErrWorkPartiesMissing = errors.New("aeat111: work productivity monetary withholdings require a party count")
	// ErrFileGeneration wraps encoding failures of the presentation file.
	ErrFileGeneration = errors.New("aeat111: presentation file could not be generated")
	// ErrFileUnavailable indicates a file request on a report that is not done.
	ErrFileUnavailable = errors.New("aeat111: presentation file only exists once the report is done")
	// ErrLocked indicates a ledger record tied to a declaration register.
	ErrLocked = errors.New("aeat111: record is referenced by a declaration register")
)

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TransitionError names the report and the states of a rejected transition.
type TransitionError struct {
	ReportID int64
	From     State
	To       State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: report %d cannot go from %s to %s", ErrInvalidTransition.Error(), e.ReportID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// LockError names the locked record and the report holding it.
type LockError struct {
	Lock Lock
}

func (e *LockError) Error() string {
	return fmt.Sprintf("%s: %s %s is in report %d", ErrLocked.Error(), e.Lock.Entity, e.Lock.Label, e.Lock.ReportID)
}

func (e *LockError) Is(target error) bool { return target == ErrLocked }

// ErrNotDeletable indicates a delete on a report that is calculated or done.
var ErrNotDeletable = errors.New("aeat111: only draft or cancelled reports can be deleted")

// FieldErrors exposes the per-field messages to transport layers.
func (e *ValidationError) FieldErrors() map[string]string { return e.Fields }
