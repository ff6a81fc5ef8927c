package segstore

import "sync"

// bufferPool recycles the byte slices AppendBatch uses to coalesce a
// batch of records into one WriteAt call.
var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 0, 4096)
		return &buf
	},
}
