package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestAllow_突发额度用完即限(t *testing.T) {
	// 1 QPS + 突发 3
	s := NewStore(rate.Every(time.Second), 3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, s.Allow("1.2.3.4"), "突发额度内第 %d 次应放行", i+1)
	}
	assert.False(t, s.Allow("1.2.3.4"), "超出突发额度要拦")

	// 不同 key 各算各的桶
	assert.True(t, s.Allow("5.6.7.8"))
}

func TestGC_清理过期条目(t *testing.T) {
	s := NewStore(rate.Every(time.Second), 1, time.Nanosecond)
	s.Allow("gone")
	time.Sleep(time.Millisecond)

	s.GC()

	s.mu.Lock()
	_, ok := s.entries["gone"]
	s.mu.Unlock()
	assert.False(t, ok)
}
