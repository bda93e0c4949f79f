package servo

import (
	"context"
	"sync"
)

// Call is the pending outcome of an operation. It resolves exactly once,
// either with a Result or with an error.
type Call struct {
	done   chan struct{}
	once   sync.Once
	result *Result
	err    error
}

func newCall() *Call {
	return &Call{done: make(chan struct{})}
}

func (c *Call) resolve(res *Result, err error) {
	c.once.Do(func() {
		if err != nil {
			res = nil
		}
		c.result = res
		c.err = err
		close(c.done)
	})
}

// Done is closed once the call has resolved.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call resolves or ctx is done. Giving up on ctx does
// not cancel the request; cancel the context passed to the operation for that.
func (c *Call) Wait(ctx context.Context) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome without blocking. ok is false while the call is
// still in flight.
func (c *Call) Result() (res *Result, ok bool, err error) {
	select {
	case <-c.done:
		return c.result, true, c.err
	default:
		return nil, false, nil
	}
}

// Then invokes exactly one of onSuccess or onError from a new goroutine once
// the call resolves. Nil handlers are skipped.
func (c *Call) Then(onSuccess func(*Result), onError func(error)) {
	go func() {
		<-c.done
		if c.err != nil {
			if onError != nil {
				onError(c.err)
			}
			return
		}
		if onSuccess != nil {
			onSuccess(c.result)
		}
	}()
}
