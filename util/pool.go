package util

import "sync"

// ReadBufSize is the size of one read from a client connection (16 KiB).
const ReadBufSize = 16 * 1024

// BufPool provides reusable read buffers for connection readers,
// reducing GC pressure when many clients are connected.
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, ReadBufSize)
		return &buf
	},
}

// GetBuf retrieves a buffer from the pool.  Callers must return it
// with [PutBuf] when finished.
func GetBuf() *[]byte {
	return BufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool for reuse.
func PutBuf(buf *[]byte) {
	if buf == nil {
		return
	}
	BufPool.Put(buf)
}
