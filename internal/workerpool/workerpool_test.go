package workerpool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueRunsAllTasks(t *testing.T) {
	p := New(4)
	defer p.Close()

	var done int64
	const n = 500
	for i := 0; i < n; i++ {
		p.Enqueue(func() { atomic.AddInt64(&done, 1) })
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt64(&done) != n {
		require.False(t, time.Now().After(deadline), "only %d/%d tasks completed", atomic.LoadInt64(&done), n)
		time.Sleep(time.Millisecond)
	}
}

func TestCloseDrainsQueue(t *testing.T) {
	p := New(2)
	var done int64
	for i := 0; i < 50; i++ {
		p.Enqueue(func() { atomic.AddInt64(&done, 1) })
	}
	p.Close()
	assert.EqualValues(t, 50, atomic.LoadInt64(&done), "Close should drain the queue before returning")
}
