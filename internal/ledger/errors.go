package ledger

import "errors"

var (
	ErrNotFound     = errors.New("transaction not found")
	ErrDuplicateKey = errors.New("transaction already exists")
	// ErrAlreadySettled rejects a synchronous result that arrives after the webhook.
	ErrAlreadySettled = errors.New("transaction already settled")
	// ErrConflictingSettlement is returned when a webhook disagrees with an
	// earlier webhook. Financial state is never overwritten in that case.
	ErrConflictingSettlement = errors.New("conflicting settlement")
	ErrConcurrentUpdate      = errors.New("concurrent update, retries exhausted")
	ErrInvalidTransaction    = errors.New("invalid transaction")
)
