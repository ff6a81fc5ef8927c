package engine

import "errors"

var (
	// ErrOverwrite is returned when an append targets a known or trimmed
	// address with no rank, or an address below the trim mark. A ranked
	// append that loses gets ErrDataOutranked or ErrValueAdopted instead.
	ErrOverwrite = errors.New("engine: address already written, no rank to resolve overwrite")
	// ErrDataOutranked is returned when a ranked append's rank is lower
	// than the rank already stored at that address.
	ErrDataOutranked = errors.New("engine: existing entry has a higher rank")
	// ErrValueAdopted is returned when a ranked append ties the stored
	// rank but carries different payload bytes — the address is already
	// decided.
	ErrValueAdopted = errors.New("engine: address already decided at this rank")
	// ErrIllegalArgument is returned when a batch append is not strictly
	// sequential or spans more than two segments.
	ErrIllegalArgument = errors.New("engine: batch addresses must be consecutive and span at most two segments")
	// ErrNotFound is returned by Read when address has never been
	// written and is not below the trim mark.
	ErrNotFound = errors.New("engine: no record at address")
	// ErrClosed is returned by any operation attempted after Close.
	ErrClosed = errors.New("engine: engine is closed")
)
