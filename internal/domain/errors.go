package domain

import "errors"

var (
	ErrBillNotFound      = errors.New("bill not found")
	ErrProfileNotFound   = errors.New("rebate profile not found")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrMissingUser       = errors.New("user id is required")
	ErrMissingBill       = errors.New("bill id is required")
	ErrSessionNotPaid    = errors.New("checkout session is not paid")
	ErrSessionMismatch   = errors.New("checkout session belongs to another user")
	ErrSessionIncomplete = errors.New("checkout session is missing bill metadata")
	ErrUnauthorized      = errors.New("unauthorized")
)
