package domain

import "errors"

var (
	ErrInvalidUser        = errors.New("invalid_user")
	ErrInvalidStatus      = errors.New("invalid_status")
	ErrTransactionMissing = errors.New("transaction_not_found")
)
