// Package domain defines domain-level errors for the pricebars feature.
package domain

import "errors"

// Errors raised while synchronizing price bars.
// Upper layers match them with errors.Is; adapters wrap the underlying cause.
var (
	// ErrStorageUnavailable indicates the persistent store cannot be read or written.
	// At watermark-read time it aborts the whole run.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrProviderFetch indicates a network, timeout or provider-side failure for one symbol.
	ErrProviderFetch = errors.New("provider fetch failed")

	// ErrSchemaMismatch indicates a required column is missing from a provider response.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrInvalidRow indicates a single row with an unparseable or out-of-range value.
	ErrInvalidRow = errors.New("invalid row")

	// ErrDuplicateKeyRace indicates the store reported a unique violation on (symbol, price_date)
	// even though the write was conditional.
	ErrDuplicateKeyRace = errors.New("duplicate key race")

	// ErrRunInProgress is returned when a sync run is requested while another is running.
	ErrRunInProgress = errors.New("sync run already in progress")
)
