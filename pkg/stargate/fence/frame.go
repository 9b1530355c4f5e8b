package fence

import (
	"bytes"
	"io"

	"github.com/valyala/bytebufferpool"
)

// Terminator ends every frame on the wire. A frame holding only the
// terminator is a heartbeat.
const Terminator byte = '\n'

// writeFrame writes payload followed by the terminator in a single write
func writeFrame(w io.Writer, payload []byte) error {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	_, _ = bb.Write(payload)
	_ = bb.WriteByte(Terminator)

	_, err := w.Write(bb.B)
	return err
}

// frameBuffer accumulates inbound bytes and splits them into frames. Bytes
// after the last terminator stay buffered until the rest of the frame arrives.
type frameBuffer struct {
	pending []byte
}

func (b *frameBuffer) Append(p []byte) {
	b.pending = append(b.pending, p...)
}

// Next returns the next complete frame without its terminator. Empty frames
// are returned too so callers can count heartbeats.
func (b *frameBuffer) Next() ([]byte, bool) {
	i := bytes.IndexByte(b.pending, Terminator)
	if i < 0 {
		return nil, false
	}

	frame := make([]byte, i)
	copy(frame, b.pending[:i])

	rest := b.pending[i+1:]
	if len(rest) == 0 {
		b.pending = b.pending[:0]
	} else {
		b.pending = append(b.pending[:0], rest...)
	}
	return frame, true
}

// Complete reports whether a full frame is buffered
func (b *frameBuffer) Complete() bool {
	return bytes.IndexByte(b.pending, Terminator) >= 0
}

// Len returns the number of buffered bytes
func (b *frameBuffer) Len() int {
	return len(b.pending)
}

func (b *frameBuffer) Reset() {
	b.pending = b.pending[:0]
}
