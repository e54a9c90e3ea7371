package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnectivityMonitor(t *testing.T) {
	t.Run("Starts online", func(t *testing.T) {
		m := NewConnectivityMonitor(nil, nil, nil, time.Second)
		assert.True(t, m.Online())
	})

	t.Run("Subscribers see state flips", func(t *testing.T) {
		m := NewConnectivityMonitor(nil, nil, nil, time.Second)
		ch := m.Subscribe()

		m.online.Store(false)
		m.notify(false)

		select {
		case online := <-ch:
			assert.False(t, online)
		case <-time.After(time.Second):
			t.Fatal("expected a connectivity notification")
		}
	})

	t.Run("Slow subscriber does not block notify", func(t *testing.T) {
		m := NewConnectivityMonitor(nil, nil, nil, time.Second)
		_ = m.Subscribe()

		// 通道容量 4，超出后通知被丢弃而不是阻塞
		done := make(chan struct{})
		go func() {
			for i := 0; i < 10; i++ {
				m.notify(i%2 == 0)
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("notify must never block on slow subscribers")
		}
	})
}
