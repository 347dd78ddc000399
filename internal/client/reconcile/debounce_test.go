package reconcile

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncerRunsOnlyTrailingCall(t *testing.T) {
	d := NewDebouncer()
	var last atomic.Int64
	var calls atomic.Int32

	for i := int64(1); i <= 5; i++ {
		v := i
		d.Trigger("k", 30*time.Millisecond, func() {
			calls.Add(1)
			last.Store(v)
		})
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(5), last.Load())
	assert.False(t, d.Pending("k"))
}

func TestDebouncerKeysAreIndependent(t *testing.T) {
	d := NewDebouncer()
	var calls atomic.Int32

	d.Trigger("a", 10*time.Millisecond, func() { calls.Add(1) })
	d.Trigger("b", 10*time.Millisecond, func() { calls.Add(1) })

	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestDebouncerCancelAndStop(t *testing.T) {
	d := NewDebouncer()
	var calls atomic.Int32

	d.Trigger("a", 20*time.Millisecond, func() { calls.Add(1) })
	d.Cancel("a")
	d.Trigger("b", 20*time.Millisecond, func() { calls.Add(1) })
	d.Stop()
	d.Trigger("c", time.Millisecond, func() { calls.Add(1) })

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}
