package schedule

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
	fired chan string
}

func newRecorder() *recorder {
	return &recorder{fired: make(chan string, 16)}
}

func (r *recorder) fn(key string) {
	r.mu.Lock()
	r.calls = append(r.calls, key)
	r.mu.Unlock()
	r.fired <- key
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestDebouncer_CoalescesResets(t *testing.T) {
	rec := newRecorder()
	d := New(20*time.Millisecond, rec.fn)

	for i := 0; i < 5; i++ {
		d.Reset("n1")
		time.Sleep(2 * time.Millisecond)
	}

	select {
	case key := <-rec.fired:
		assert.Equal(t, "n1", key)
	case <-time.After(time.Second):
		t.Fatal("debounced callback never fired")
	}
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
	assert.Empty(t, d.Keys())
}

func TestDebouncer_KeysAreIndependent(t *testing.T) {
	rec := newRecorder()
	d := New(10*time.Millisecond, rec.fn)

	d.Reset("a")
	d.Reset("b")
	assert.ElementsMatch(t, []string{"a", "b"}, d.Keys())

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case key := <-rec.fired:
			got[key] = true
		case <-time.After(time.Second):
			t.Fatal("timeout")
		}
	}
	assert.True(t, got["a"] && got["b"])
}

func TestDebouncer_Cancel(t *testing.T) {
	rec := newRecorder()
	d := New(10*time.Millisecond, rec.fn)

	d.Reset("n1")
	assert.True(t, d.Cancel("n1"))
	assert.False(t, d.Cancel("n1"))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}

func TestDebouncer_Stop(t *testing.T) {
	var calls atomic.Int32
	d := New(5*time.Millisecond, func(string) { calls.Add(1) })

	d.Reset("n1")
	assert.True(t, d.Stop(time.Second))

	d.Reset("n2")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
	assert.Empty(t, d.Keys())
}

func TestDebouncer_StopWaitsForRunningCallback(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	d := New(time.Millisecond, func(string) {
		close(started)
		<-release
	})

	d.Reset("n1")
	<-started

	assert.False(t, d.Stop(10*time.Millisecond))
	close(release)
	assert.True(t, d.Stop(time.Second))
}
