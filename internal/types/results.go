package types

import (
	"encoding/json"
	"fmt"
)

// ItemError records a per-item failure that did not stop the run.
type ItemError struct {
	ID  string
	Err error
}

func (e ItemError) Error() string { return fmt.Sprintf("%s: %v", e.ID, e.Err) }

func (e ItemError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		ID    string `json:"id"`
		Error string `json:"error"`
	}{e.ID, msg})
}

type ExecResult struct {
	Processed int
	Executed  int
	Rejected  int
	Skipped   int
	Failed    int
	Errors    []ItemError
}

// Fail counts a decision left untouched for the next run.
func (r *ExecResult) Fail(id string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, ItemError{ID: id, Err: err})
}

type SyncResult struct {
	Checked   int
	Updated   int
	Entries   int
	Exits     int
	Cancelled int
	Anomalies int
	Failed    int
	Errors    []ItemError
}

func (r *SyncResult) Fail(id string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, ItemError{ID: id, Err: err})
}

// Merge folds o into r.
func (r *SyncResult) Merge(o SyncResult) {
	r.Checked += o.Checked
	r.Updated += o.Updated
	r.Entries += o.Entries
	r.Exits += o.Exits
	r.Cancelled += o.Cancelled
	r.Anomalies += o.Anomalies
	r.Failed += o.Failed
	r.Errors = append(r.Errors, o.Errors...)
}

type ValuationResult struct {
	Valued     int
	Skipped    int
	Reconciled int
	Anomalies  int
	Failed     int
	Errors     []ItemError
}

func (r *ValuationResult) Fail(id string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, ItemError{ID: id, Err: err})
}

func (r *ValuationResult) Merge(o ValuationResult) {
	r.Valued += o.Valued
	r.Skipped += o.Skipped
	r.Reconciled += o.Reconciled
	r.Anomalies += o.Anomalies
	r.Failed += o.Failed
	r.Errors = append(r.Errors, o.Errors...)
}
