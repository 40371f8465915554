package task

import (
	"sync"
)

// Output is an append-only log sink supporting byte-range reads, so a
// client can resume tailing from wherever it left off.
type Output struct {
	mtx sync.RWMutex
	buf []byte
}

func NewOutput() *Output {
	return &Output{}
}

func (o *Output) Write(p []byte) (int, error) {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	o.buf = append(o.buf, p...)
	return len(p), nil
}

func (o *Output) Len() int64 {
	o.mtx.RLock()
	defer o.mtx.RUnlock()
	return int64(len(o.buf))
}

// ReadRange returns up to length bytes starting at offset, plus the
// total length written so far. length < 0 means to the end. An offset
// at or past the end returns an empty slice, not an error; the caller
// is tailing and simply hasn't missed anything yet.
func (o *Output) ReadRange(offset, length int64) ([]byte, int64) {
	o.mtx.RLock()
	defer o.mtx.RUnlock()
	total := int64(len(o.buf))
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return nil, total
	}
	end := total
	if length >= 0 && offset+length < total {
		end = offset + length
	}
	out := make([]byte, end-offset)
	copy(out, o.buf[offset:end])
	return out, total
}
