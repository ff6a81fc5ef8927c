package segstore

import "errors"

var (
	// ErrOverRelease is returned by Release when the segment's ref count
	// is already zero.
	ErrOverRelease = errors.New("segstore: release called with ref count already zero")
	// ErrClosed is returned by any operation attempted after Close.
	ErrClosed = errors.New("segstore: segment is closed")
)
