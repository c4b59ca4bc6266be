// Package aeat111http serves the withholding declaration JSON API: reports
// and their state actions, registers, presentation files, PDF summaries,
// field mappings and ledger lock checks.
package aeat111http
