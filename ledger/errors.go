package ledger

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput       = errors.New("missing or malformed symbol or share count")
	ErrInvalidAmount      = errors.New("amount must be a positive number")
	ErrUnknownSymbol      = errors.New("invalid stock symbol")
	ErrInsufficientFunds  = errors.New("not enough cash for purchase")
	ErrInsufficientShares = errors.New("not enough shares to sell")
	ErrDepositTooLarge    = errors.New("deposits are capped at 10000 at one time")
	ErrOracleTimeout      = errors.New("price lookup timed out")
	ErrUserNotFound       = errors.New("no such user")
	ErrStoreConflict      = errors.New("transaction aborted, retry")
	ErrStoreFatal         = errors.New("unrecoverable store failure")
)

var businessErrors = []error{
	ErrInvalidInput,
	ErrInvalidAmount,
	ErrUnknownSymbol,
	ErrInsufficientFunds,
	ErrInsufficientShares,
	ErrDepositTooLarge,
	ErrOracleTimeout,
	ErrUserNotFound,
}

// translateStoreErr classifies a transaction error: business rejections pass
// through untouched, retryable aborts (deadlocks, serialization failures,
// sqlite busy) become ErrStoreConflict, everything else ErrStoreFatal.
// StoreConflict is the only kind a caller may retry as-is.
func translateStoreErr(err error) error {
	if err == nil {
		return nil
	}
	for _, business := range businessErrors {
		if errors.Is(err, business) {
			return err
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "could not serialize"),
		strings.Contains(msg, "database is locked"),
		// Two first-buys of the same symbol racing on the (user_id, symbol)
		// unique index: the loser can simply retry.
		strings.Contains(msg, "duplicate key"),
		strings.Contains(msg, "unique constraint"):
		return fmt.Errorf("%w: %v", ErrStoreConflict, err)
	}
	return fmt.Errorf("%w: %v", ErrStoreFatal, err)
}
