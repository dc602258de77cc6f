package feed

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(v string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, v)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestDebouncer_SinglePassForLastTerm(t *testing.T) {
	var rec recorder
	d := NewDebouncer(30*time.Millisecond, rec.record)
	defer d.Stop()

	d.Push("java")
	time.Sleep(5 * time.Millisecond)
	d.Push("javascript")

	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []string{"javascript"}, rec.snapshot())
}

func TestDebouncer_SeparateBursts(t *testing.T) {
	var rec recorder
	d := NewDebouncer(10*time.Millisecond, rec.record)
	defer d.Stop()

	d.Push("go")
	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 2*time.Millisecond)
	d.Push("rust")
	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 2*time.Millisecond)

	assert.Equal(t, []string{"go", "rust"}, rec.snapshot())
}

func TestDebouncer_StopDropsPending(t *testing.T) {
	var rec recorder
	d := NewDebouncer(10*time.Millisecond, rec.record)

	d.Push("pending")
	d.Stop()
	d.Push("ignored")
	time.Sleep(40 * time.Millisecond)

	assert.Empty(t, rec.snapshot())
}

func TestNewDebouncer_DefaultWindow(t *testing.T) {
	d := NewDebouncer(0, func(string) {})
	assert.Equal(t, DefaultDebounce, d.window)
}
