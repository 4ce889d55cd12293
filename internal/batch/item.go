package batch

import (
	"time"

	"cleanconvert/internal/convert"
	"cleanconvert/internal/errs"
	"cleanconvert/internal/lifecycle"
	"cleanconvert/internal/validate"
)

// InputFile is a file offered to the batch.
type InputFile = validate.File

// Status is the conversion state of an item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Item is one file in the batch. Items are values: every transition
// replaces the stored Item, and Result and Err are never mutated once set.
// Result is non-nil exactly when Status is completed, Err exactly when
// Status is error.
type Item struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	MediaType string           `json:"mediaType"`
	Size      int64            `json:"size"`
	Digest    string           `json:"digest"`
	Source    string           `json:"source,omitempty"`
	Request   convert.Request  `json:"request"`
	Status    Status           `json:"status"`
	Progress  int              `json:"progress"`
	Attempt   int              `json:"attempt"`
	Original  lifecycle.Handle `json:"original"`
	Result    *ItemResult      `json:"result,omitempty"`
	Err       *ItemError       `json:"error,omitempty"`
	AddedAt   time.Time        `json:"addedAt"`

	data []byte
}

// ItemResult describes a completed conversion.
type ItemResult struct {
	Handle         lifecycle.Handle `json:"handle"`
	FileName       string           `json:"fileName"`
	MediaType      string           `json:"mediaType"`
	RequestedType  string           `json:"requestedType"`
	UsedFallback   bool             `json:"usedFallback"`
	Width          int              `json:"width"`
	Height         int              `json:"height"`
	Size           int64            `json:"size"`
	SourceWidth    int              `json:"sourceWidth"`
	SourceHeight   int              `json:"sourceHeight"`
	SavingsPercent float64          `json:"savingsPercent"`
	Metadata       convert.Metadata `json:"metadata"`
	Duration       time.Duration    `json:"durationNs"`
}

// ItemError describes a failed conversion.
type ItemError struct {
	Code   errs.Code `json:"code"`
	Reason string    `json:"reason"`
	Detail string    `json:"detail,omitempty"`
}

func newItemError(err error) *ItemError {
	return &ItemError{Code: errs.CodeOf(err), Reason: errs.Reason(err), Detail: err.Error()}
}

// Rejection reports a file that did not enter the batch.
type Rejection struct {
	Name   string    `json:"name"`
	Source string    `json:"source,omitempty"`
	Code   errs.Code `json:"code"`
	Reason string    `json:"reason"`
}

// AddReport is the result of AddFiles. Rejections never block other files.
type AddReport struct {
	Added    []Item      `json:"added"`
	Rejected []Rejection `json:"rejected"`
}

// Outcome values.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeDropped   = "dropped"
	OutcomeSkipped   = "skipped"
)

// Outcome is the per-item result of a bulk operation.
type Outcome struct {
	ItemID       string    `json:"itemId"`
	Name         string    `json:"name"`
	Outcome      string    `json:"outcome"`
	Code         errs.Code `json:"code,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	UsedFallback bool      `json:"usedFallback,omitempty"`
}

// Summary reports a ProcessAll pass.
type Summary struct {
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Dropped   int       `json:"dropped"`
	Fallbacks int       `json:"fallbacks"`
	Outcomes  []Outcome `json:"outcomes"`
}

// Stats aggregates the current items.
type Stats struct {
	BatchID        string  `json:"batchId"`
	Total          int     `json:"total"`
	Pending        int     `json:"pending"`
	Processing     int     `json:"processing"`
	Completed      int     `json:"completed"`
	Failed         int     `json:"failed"`
	Fallbacks      int     `json:"fallbacks"`
	OriginalBytes  int64   `json:"originalBytes"`
	OutputBytes    int64   `json:"outputBytes"`
	SavingsPercent float64 `json:"savingsPercent"`
	Active         int     `json:"active"`
	Limit          int     `json:"limit"`
	MaxItems       int     `json:"maxItems"`
}
