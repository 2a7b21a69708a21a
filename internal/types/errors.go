package types

import "errors"

var (
	// ErrRejected marks a venue refusal. It is terminal and never retried.
	ErrRejected = errors.New("order rejected")
	// ErrNotCancelable is returned when a cancel reaches an order that has
	// already filled.
	ErrNotCancelable = errors.New("order not cancelable")
	ErrOrderNotFound = errors.New("order not found")
	ErrNoQuote       = errors.New("no quote available")
)

// RejectError carries the venue's reason for a rejection.
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string { return "order rejected: " + e.Reason }

func (e *RejectError) Is(target error) bool { return target == ErrRejected }

func Rejected(reason string) error { return &RejectError{Reason: reason} }

// RejectReason returns the venue reason when err is a rejection.
func RejectReason(err error) (string, bool) {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	if errors.Is(err, ErrRejected) {
		return err.Error(), true
	}
	return "", false
}
