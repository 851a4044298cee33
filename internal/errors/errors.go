// Package errors defines the closed set of failure kinds raised by the billing core.
package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Kind classifies a failure so the transport layer can pick a response status.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindBatchStatus         Kind = "batch_status"
	KindTransactionStatus   Kind = "transaction_status"
	KindBillingVolumeStatus Kind = "billing_volume_status"
	KindInvalidResponse     Kind = "invalid_response"
	KindConflict            Kind = "conflict"
	KindValidation          Kind = "validation"
)

var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrBatchStatus         = &Error{Kind: KindBatchStatus}
	ErrTransactionStatus   = &Error{Kind: KindTransactionStatus}
	ErrBillingVolumeStatus = &Error{Kind: KindBillingVolumeStatus}
	ErrInvalidResponse     = &Error{Kind: KindInvalidResponse}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrValidation          = &Error{Kind: KindValidation}

	ErrBatchNotFound           = &Error{Kind: KindNotFound, Code: "batch_not_found"}
	ErrInvoiceNotFound         = &Error{Kind: KindNotFound, Code: "invoice_not_found"}
	ErrOriginalInvoiceNotFound = &Error{Kind: KindNotFound, Code: "original_invoice_not_found"}
	ErrRebillInvoiceNotFound   = &Error{Kind: KindNotFound, Code: "rebill_invoice_not_found"}
	ErrBillingVolumeNotFound   = &Error{Kind: KindNotFound, Code: "billing_volume_not_found"}
	ErrTransactionNotFound     = &Error{Kind: KindNotFound, Code: "transaction_not_found"}
	ErrRegionNotFound          = &Error{Kind: KindNotFound, Code: "region_not_found"}

	ErrBatchAlreadyLive = &Error{Kind: KindConflict, Code: "batch_already_live"}
	ErrBatchAlreadySent = &Error{Kind: KindConflict, Code: "batch_already_sent"}

	statusCodeMap = map[Kind]int{
		KindNotFound:            http.StatusNotFound,
		KindBatchStatus:         http.StatusConflict,
		KindTransactionStatus:   http.StatusConflict,
		KindBillingVolumeStatus: http.StatusConflict,
		KindInvalidResponse:     http.StatusBadGateway,
		KindConflict:            http.StatusConflict,
		KindValidation:          http.StatusBadRequest,
	}
)

// Error is a tagged failure. Message is part of the public contract and is
// returned verbatim by Error().
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return string(e.Kind)
}

// Is matches on Code when the target carries one, otherwise on Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Code == t.Code
	}
	return e.Kind == t.Kind
}

// New returns a copy of the sentinel carrying the formatted message and a stack.
func (e *Error) New(format string, args ...any) error {
	return errors.WithStack(&Error{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: fmt.Sprintf(format, args...),
	})
}

func NotFound(format string, args ...any) error {
	return ErrNotFound.New(format, args...)
}

func BatchStatus(message string) error {
	return ErrBatchStatus.New("%s", message)
}

func TransactionStatus(message string) error {
	return ErrTransactionStatus.New("%s", message)
}

func BillingVolumeStatus(message string) error {
	return ErrBillingVolumeStatus.New("%s", message)
}

func InvalidResponse(format string, args ...any) error {
	return ErrInvalidResponse.New(format, args...)
}

func Validation(format string, args ...any) error {
	return ErrValidation.New(format, args...)
}

// External wraps a failed remote call with context and an operator hint.
func External(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.WithHint(errors.Wrap(err, op), "the charge module request failed and can be retried")
}

// KindOf returns the kind of the first tagged error in the chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsBatchStatus(err error) bool {
	return errors.Is(err, ErrBatchStatus)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// HTTPStatus maps an error to the response status used by the server.
func HTTPStatus(err error) int {
	if kind, ok := KindOf(err); ok {
		if status, found := statusCodeMap[kind]; found {
			return status
		}
	}
	return http.StatusInternalServerError
}

// Hints returns operator hints attached to the error chain.
func Hints(err error) []string {
	return errors.GetAllHints(err)
}
