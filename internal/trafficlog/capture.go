package trafficlog

import (
	"bytes"
	"io"

	"golang.org/x/text/transform"
)

// BodyCapture tees a request or response body into a bounded in-memory
// buffer while still passing every byte through to its real destination,
// so capture mode and the streaming forward path share one abstraction.
type BodyCapture struct {
	buf    bytes.Buffer
	capped *transform.Writer
	limit  int
	total  int64
}

// NewBodyCapture constructs a BodyCapture that retains at most limit bytes.
func NewBodyCapture(limit int) *BodyCapture {
	b := &BodyCapture{limit: limit}
	b.capped = transform.NewWriter(&b.buf, &cappedTransformer{limit: limit})
	return b
}

// TeeReader wraps r so every byte read through it is also recorded, up to
// the configured limit; bytes read beyond the limit still pass through
// untouched, only the retained copy stops growing.
func (b *BodyCapture) TeeReader(r io.Reader) io.Reader {
	return &capturingReader{source: r, capture: b}
}

// Total reports the number of bytes observed, including any beyond the
// retained limit.
func (b *BodyCapture) Total() int64 {
	return b.total
}

// Truncated returns the retained prefix, suffixed with an ellipsis if more
// bytes were observed than retained.
func (b *BodyCapture) Truncated() string {
	if b.total > int64(b.buf.Len()) {
		return b.buf.String() + "..."
	}
	return b.buf.String()
}

type capturingReader struct {
	source  io.Reader
	capture *BodyCapture
}

func (c *capturingReader) Read(p []byte) (int, error) {
	n, err := c.source.Read(p)
	if n > 0 {
		c.capture.total += int64(n)
		// The transform.Writer silently discards whatever falls outside the
		// configured cap; every byte read still reaches the real
		// destination through the reader return value below.
		_, _ = c.capture.capped.Write(p[:n])
	}
	return n, err
}

// cappedTransformer is a golang.org/x/text/transform.Transformer that copies
// at most limit bytes from src to dst and silently discards the rest,
// without ever buffering past the configured cap. It backs BodyCapture's
// retained-copy tee so the bounded body-capture path is expressed with the
// same transform pipeline idiom the rest of the text-processing ecosystem
// uses, rather than a hand-rolled byte-counting branch.
type cappedTransformer struct {
	limit   int
	written int
}

func (t *cappedTransformer) Reset() {
	t.written = 0
}

func (t *cappedTransformer) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	room := t.limit - t.written
	if room <= 0 {
		return 0, len(src), nil
	}

	n := len(src)
	if n > room {
		n = room
	}
	if n > len(dst) {
		n = len(dst)
		copy(dst[:n], src[:n])
		t.written += n
		return n, n, transform.ErrShortDst
	}

	copy(dst[:n], src[:n])
	t.written += n
	return n, n, nil
}
