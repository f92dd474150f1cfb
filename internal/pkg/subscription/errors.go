package subscription

import "errors"

var (
	// ErrValidation marks user-correctable input problems (HTTP 400).
	ErrValidation = errors.New("invalid subscription request")
	// ErrDuplicatePending marks a re-subscribe while an earlier attempt is
	// still awaiting confirmation (HTTP 409).
	ErrDuplicatePending = errors.New("a payment for this subscription is already pending")
	// ErrGateway marks a failed or rejected push-payment request (HTTP 500).
	ErrGateway = errors.New("payment gateway request failed")
	// ErrNotification marks a failed enrollment call after a confirmed
	// payment. Never surfaced over HTTP; logged and counted only.
	ErrNotification = errors.New("mailing list enrollment failed")
)
