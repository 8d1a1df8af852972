package lifecycle

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrResourceClosed is returned by Acquire once the resource has started closing.
var ErrResourceClosed = errors.New("lifecycle: resource closed")

// closedBit marks the resource as closing. The low bits count outstanding references.
const closedBit = int64(1) << 62

// Resource keeps track of references without taking locks on the acquire and
// release paths. Once Close is called no new references can be acquired and
// Drained is closed as soon as the last outstanding reference is released.
type Resource struct {
	state   atomic.Int64
	once    sync.Once
	drained chan struct{}
}

// NewResource returns an open resource.
func NewResource() *Resource {
	return &Resource{drained: make(chan struct{})}
}

// Acquire returns a Reference used to keep the resource alive.
func (res *Resource) Acquire() (*Reference, error) {
	for {
		n := res.state.Load()
		if n&closedBit != 0 {
			return nil, ErrResourceClosed
		}
		if res.state.CompareAndSwap(n, n+1) {
			return &Reference{res: res}, nil
		}
	}
}

// Opened returns true if the resource still accepts new references. It may be
// immediately false in the presence of a concurrent Close.
func (res *Resource) Opened() bool {
	return res.state.Load()&closedBit == 0
}

// Refs returns the number of outstanding references.
func (res *Resource) Refs() int64 {
	return res.state.Load() &^ closedBit
}

// Close stops future Acquires. It does not wait; use Drained or Wait for that.
// It is safe to call multiple times.
func (res *Resource) Close() {
	for {
		n := res.state.Load()
		if n&closedBit != 0 {
			return
		}
		if res.state.CompareAndSwap(n, n|closedBit) {
			if n == 0 {
				res.signal()
			}
			return
		}
	}
}

// Drained returns a channel closed once the resource is closed and every
// reference has been released.
func (res *Resource) Drained() <-chan struct{} { return res.drained }

// Wait closes the resource and blocks until every reference is released or the
// timeout elapses. On timeout, emitter is called once and Wait keeps blocking.
// A non-positive timeout disables the warning.
func (res *Resource) Wait(timeout time.Duration, emitter func()) {
	res.Close()
	if timeout <= 0 {
		<-res.drained
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-res.drained:
		return
	case <-timer.C:
		if emitter != nil {
			emitter()
		}
	}
	<-res.drained
}

func (res *Resource) release() {
	if res.state.Add(-1) == closedBit {
		res.signal()
	}
}

func (res *Resource) signal() {
	res.once.Do(func() { close(res.drained) })
}

// Reference is an open reference for some resource.
type Reference struct {
	once sync.Once
	res  *Resource
}

// Release causes the Reference to be freed. It is safe to call multiple times.
func (ref *Reference) Release() {
	ref.once.Do(ref.res.release)
}

// Close makes a Reference an io.Closer. It is safe to call multiple times.
func (ref *Reference) Close() error {
	ref.Release()
	return nil
}
