package transfer

import (
	"io"
	"sync"
)

// ProgressFunc receives the completed fraction of a transfer in [0, 1].
type ProgressFunc func(fraction float64)

// Monotonic clamps reported fractions to [0, 1] and drops any value lower
// than one already reported. A nil fn yields a no-op.
func Monotonic(fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return func(float64) {}
	}

	var (
		mu   sync.Mutex
		last = -1.0
	)

	return func(fraction float64) {
		fraction = min(max(fraction, 0), 1)

		mu.Lock()
		if fraction < last {
			mu.Unlock()

			return
		}
		last = fraction
		mu.Unlock()

		fn(fraction)
	}
}

// Reader reports progress as bytes are consumed from the wrapped reader.
// When total is unknown (<= 0) nothing is reported until Done.
type Reader struct {
	r     io.Reader
	total int64
	read  int64
	fn    ProgressFunc
}

func NewReader(r io.Reader, total int64, fn ProgressFunc) *Reader {
	if fn == nil {
		fn = func(float64) {}
	}

	return &Reader{r: r, total: total, fn: fn}
}

func (p *Reader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		if p.total > 0 {
			p.fn(float64(p.read) / float64(p.total))
		}
	}

	return n, err
}

// Done reports completion.
func (p *Reader) Done() {
	p.fn(1)
}
