package copier

import (
	"errors"
	"fmt"

	"uni-gocopy/internal/vault"
)

// ErrPolicy reports a scaling policy that produced an unusable replica
// amount. It is a configuration fault, not a transient condition.
var ErrPolicy = errors.New("copier: scale policy produced invalid amount")

// ErrDuplicateAttempt reports that a (swap, follower) pair was already
// submitted; the duplicate invocation performed no chain writes.
var ErrDuplicateAttempt = errors.New("copier: replication already attempted for this swap and follower")

type ExecKind string

const (
	KindInsufficientBalance ExecKind = "insufficient_balance"
	KindAllowanceFailed     ExecKind = "allowance_failed"
	KindSigning             ExecKind = "signing_failed"
	KindSubmissionRejected  ExecKind = "submission_rejected"
	KindTimeout             ExecKind = "timeout"
)

// ExecutionError wraps a failed replication submission with the stage that
// failed, so callers can dispatch on kind (retry policy, notification text)
// without string matching.
type ExecutionError struct {
	Kind ExecKind
	Err  error
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("copier: execution failed (%s)", e.Kind)
	}
	return fmt.Sprintf("copier: execution failed (%s): %v", e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func execErr(kind ExecKind, format string, args ...any) *ExecutionError {
	return &ExecutionError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// retryable reports whether a failed submission may be retried. Only
// timeouts qualify; everything else is either permanent (balance, policy,
// credentials) or ambiguous in a way a blind retry would make worse.
func retryable(err error) bool {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Kind == KindTimeout
	}
	return false
}

// Reason renders a replication failure for end-user notifications.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, vault.ErrCredential):
		return "wallet credentials could not be decrypted"
	case errors.Is(err, ErrPolicy):
		return "copy sizing policy produced an invalid amount"
	case errors.Is(err, ErrDuplicateAttempt):
		return "trade was already replicated"
	}

	var ee *ExecutionError
	if errors.As(err, &ee) {
		switch ee.Kind {
		case KindInsufficientBalance:
			return "insufficient token balance"
		case KindAllowanceFailed:
			return "could not grant the exchange a token allowance"
		case KindSigning:
			return "transaction signing failed"
		case KindSubmissionRejected:
			return "transaction was rejected by the network"
		case KindTimeout:
			return "transaction was not accepted in time"
		}
	}
	return err.Error()
}
