package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResource_AcquireRelease(t *testing.T) {
	res := NewResource()
	require.True(t, res.Opened())

	a, err := res.Acquire()
	require.NoError(t, err)
	b, err := res.Acquire()
	require.NoError(t, err)
	require.EqualValues(t, 2, res.Refs())

	res.Close()
	require.False(t, res.Opened())
	_, err = res.Acquire()
	require.ErrorIs(t, err, ErrResourceClosed)

	a.Release()
	a.Release() // idempotent
	select {
	case <-res.Drained():
		t.Fatal("drained with an outstanding reference")
	default:
	}

	require.NoError(t, b.Close())
	select {
	case <-res.Drained():
	case <-time.After(time.Second):
		t.Fatal("expected resource to drain")
	}
	require.EqualValues(t, 0, res.Refs())
}

func TestResource_CloseWithoutReferences(t *testing.T) {
	res := NewResource()
	res.Close()
	res.Close()
	<-res.Drained()
}

func TestResource_WaitEmitsOnTimeout(t *testing.T) {
	res := NewResource()
	ref, err := res.Acquire()
	require.NoError(t, err)

	emitted := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		res.Wait(10*time.Millisecond, func() { close(emitted) })
	}()

	select {
	case <-emitted:
	case <-time.After(time.Second):
		t.Fatal("expected timeout warning")
	}

	ref.Release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after release")
	}
}

func TestResource_Concurrent(t *testing.T) {
	res := NewResource()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				ref, err := res.Acquire()
				if err != nil {
					return
				}
				ref.Release()
			}
		}()
	}

	res.Close()
	wg.Wait()
	<-res.Drained()
	require.EqualValues(t, 0, res.Refs())
}

type fakeService struct {
	name    string
	openErr error
	closed  *[]string
}

func (f *fakeService) Open(context.Context) error { return f.openErr }
func (f *fakeService) Close() error {
	*f.closed = append(*f.closed, f.name)
	return nil
}

func TestOpener_ClosesInReverseOnFailure(t *testing.T) {
	var closed []string
	var o Opener
	ctx := context.Background()
	o.Open(ctx, &fakeService{name: "a", closed: &closed})
	o.Open(ctx, &fakeService{name: "b", closed: &closed})
	o.Open(ctx, &fakeService{name: "c", openErr: errors.New("boom"), closed: &closed})
	o.Open(ctx, &fakeService{name: "d", closed: &closed})

	require.EqualError(t, o.Done(), "boom")
	require.Equal(t, []string{"b", "a"}, closed)
}

type errCloser struct{ err error }

func (e errCloser) Close() error { return e.err }

func TestCloser_CombinesErrors(t *testing.T) {
	var c Closer
	c.Close(errCloser{})
	c.Close(errCloser{err: errors.New("one")})
	c.Close(errCloser{err: errors.New("two")})
	require.EqualError(t, c.Done(), "one; two")
}
