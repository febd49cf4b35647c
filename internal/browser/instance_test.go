package browser

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstanceReleaseRunsOnce(t *testing.T) {
	var calls int
	var mu sync.Mutex
	inst := NewInstance("1", "ws://x", func(context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("already gone")
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := inst.Release(context.Background())
			assert.EqualError(t, err, "already gone")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
}

func TestInstanceReleaseNilFunc(t *testing.T) {
	inst := NewInstance("1", "ws://x", nil)
	assert.NoError(t, inst.Release(context.Background()))
}
