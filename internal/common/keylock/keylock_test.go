package keylock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockSerializesSameKey(t *testing.T) {
	l := New()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		counter int
		maxSeen int
		inside  int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(Order("o1"))
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)
			counter++

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, counter)
	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, l.Len())
}

func TestLockDifferentKeysDoNotBlock(t *testing.T) {
	l := New()
	unlock := l.Lock(Table("t1"))
	defer unlock()

	done := make(chan struct{})
	go func() {
		u := l.Lock(Table("t2"))
		u()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on unrelated key blocked")
	}
}

func TestLockMultipleKeysInAnyOrder(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			l.Lock(Table("a"), Table("b"), Table("a"))()
		}()
		go func() {
			defer wg.Done()
			l.Lock(Table("b"), Table("a"))()
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("multi-key locking deadlocked")
	}
	assert.Equal(t, 0, l.Len())
}

func TestUnlockIsIdempotent(t *testing.T) {
	l := New()
	unlock := l.Lock(Bill("b1"))
	unlock()
	unlock()
	assert.Equal(t, 0, l.Len())
}
