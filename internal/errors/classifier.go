package errors

import (
	stderrors "errors"
	"syscall"
)

// ErrorCategory groups a Code into a retry-policy bucket.
type ErrorCategory int

const (
	CategoryTransient  ErrorCategory = iota // retry with backoff
	CategoryPermanent                       // no retry
	CategoryCritical                        // system-level, alert immediately
	CategoryValidation                      // caller must fix the request
)

// Classifier maps errors (structural *Error or raw syscall/io errors) to a
// retry-policy category, the same role the teacher's classifier.go played
// for the file-backed WAL, generalized to the spec.md §7 code table.
type Classifier struct{}

func NewClassifier() *Classifier { return &Classifier{} }

func (c *Classifier) Classify(err error) ErrorCategory {
	if err == nil {
		return CategoryPermanent
	}

	var sysErr syscall.Errno
	if stderrors.As(err, &sysErr) {
		switch sysErr {
		case syscall.EAGAIN, syscall.ETIMEDOUT:
			return CategoryTransient
		case syscall.ENOENT, syscall.EINVAL, syscall.EEXIST:
			return CategoryPermanent
		case syscall.EIO, syscall.ENOSPC:
			return CategoryCritical
		}
	}

	switch CodeOf(err) {
	case CodeLockTimeout, CodeTimeout, CodeDeadlock:
		return CategoryTransient
	case CodeValidationError, CodeNotFound, CodeDuplicateKey, CodeAuthFailed, CodeAccessDenied:
		return CategoryValidation
	case CodeCorruptedLog:
		return CategoryCritical
	default:
		return CategoryPermanent
	}
}

func (c *Classifier) ShouldRetry(category ErrorCategory) bool {
	return category == CategoryTransient
}

func (c *Classifier) IsCritical(category ErrorCategory) bool {
	return category == CategoryCritical
}
