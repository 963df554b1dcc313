package tinify

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"tinypng/internal/failure"
)

// ErrRequestTimedOut is the cause of a transport failure raised because no
// bytes moved within the request timeout.
var ErrRequestTimedOut = errors.New("request timed out")

// idleWatch cancels a request after timeout passes without any body bytes
// being sent or received.
type idleWatch struct {
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func (c *Client) watchIdle(ctx context.Context) (context.Context, *idleWatch, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	w := &idleWatch{timeout: c.idleTimeout}
	w.timer = time.AfterFunc(c.idleTimeout, func() {
		w.fired.Store(true)
		cancel()
	})
	return ctx, w, func() {
		w.timer.Stop()
		cancel()
	}
}

func (w *idleWatch) touch() {
	if !w.fired.Load() {
		w.timer.Reset(w.timeout)
	}
}

// reader resets the deadline on every chunk read from r.
func (w *idleWatch) reader(r io.Reader) io.Reader {
	return &touchReader{r: r, touch: w.touch}
}

// transportError reports err, or ErrRequestTimedOut when the watch fired.
func (w *idleWatch) transportError(err error) error {
	if w.fired.Load() {
		return failure.Transport(ErrRequestTimedOut)
	}
	return failure.Transport(err)
}

type touchReader struct {
	r     io.Reader
	touch func()
}

func (t *touchReader) Read(buf []byte) (int, error) {
	n, err := t.r.Read(buf)
	if n > 0 {
		t.touch()
	}
	return n, err
}
