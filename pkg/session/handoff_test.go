package session_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/absmach/fedlet/pkg/session"
	"github.com/stretchr/testify/assert"
)

func TestHandoffInvokesOnce(t *testing.T) {
	h := session.NewHandoff()
	assert.False(t, h.Done())

	var calls int
	h.Install(func() { calls++ })
	assert.True(t, h.Pending())

	assert.True(t, h.Done())
	assert.False(t, h.Done())
	assert.False(t, h.Pending())
	assert.Equal(t, 1, calls)
}

func TestHandoffConcurrentDone(t *testing.T) {
	h := session.NewHandoff()

	var calls atomic.Int32
	h.Install(func() { calls.Add(1) })

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Done()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}
