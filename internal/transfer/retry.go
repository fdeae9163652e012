package transfer

import (
	"regexp"
)

// transientSignatures are the source failures that indicate server load
// rather than a permanent fault.
var transientSignatures = []*regexp.Regexp{
	regexp.MustCompile(`HTTP error code ?: ?(504|502|404)`),
	regexp.MustCompile(`General Error`),
	regexp.MustCompile(`Empty content returned by server`),
}

// IsTransient reports whether err matches one of the transient source signatures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, re := range transientSignatures {
		if re.MatchString(msg) {
			return true
		}
	}
	return false
}

// RetryState counts the attempts of one Write call.
type RetryState struct {
	Attempts    int
	MaxAttempts int
	Threshold   int
}

// TransactionsEnabled reports whether the feature loop runs inside a transaction.
// Repeated failures switch transactions off.
func (r RetryState) TransactionsEnabled() bool {
	return r.Attempts < r.Threshold
}

// Retryable reports whether another attempt may follow err.
func (r RetryState) Retryable(err error) bool {
	return r.Attempts < r.MaxAttempts-1 && IsTransient(err)
}
