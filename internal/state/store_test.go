package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetSet(t *testing.T) {
	t.Parallel()

	s := NewStore("test", 10)
	assert.Equal(t, 10, s.Get())
	s.Set(20)
	assert.Equal(t, 20, s.Get())
}

func TestStore_Update(t *testing.T) {
	t.Parallel()

	s := NewStore("test", 5)
	s.Update(func(v int) int { return v * 2 })
	assert.Equal(t, 10, s.Get())
}

func TestStore_Subscribe_DeliversCurrentValueImmediately(t *testing.T) {
	t.Parallel()

	s := NewStore("test", 42)
	ch, cancel := s.Subscribe(1)
	defer cancel()

	select {
	case v := <-ch:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("no initial value delivered")
	}
}

func TestStore_Subscribe_ReceivesUpdates(t *testing.T) {
	t.Parallel()

	s := NewStore("test", 0)
	ch, cancel := s.Subscribe(4)
	defer cancel()
	<-ch // initial

	s.Set(1)
	s.Set(2)

	assert.Equal(t, 1, <-ch)
	assert.Equal(t, 2, <-ch)
}

func TestStore_Subscribe_CancelClosesChannel(t *testing.T) {
	t.Parallel()

	s := NewStore("test", 0)
	ch, cancel := s.Subscribe(1)
	<-ch
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Cancel twice is safe, and later sets must not panic.
	cancel()
	s.Set(99)
}

func TestStore_SlowSubscriberNeverBlocksPublisher(t *testing.T) {
	t.Parallel()

	s := NewStore("test", 0)
	_, cancel := s.Subscribe(1) // never drained beyond the initial value
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 1; i <= 100; i++ {
			s.Set(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
	// The latest value is always available through Get.
	assert.Equal(t, 100, s.Get())
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := NewStore("test", 0)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Update(func(v int) int { return v + 1 })
		}()
		go func() {
			defer wg.Done()
			_ = s.Get()
		}()
	}
	wg.Wait()
	require.Equal(t, 10, s.Get())
}
