package transport

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

func TestReconnectBackOff(t *testing.T) {
	b := Reconnect{InitialInterval: 100 * time.Millisecond, MaxInterval: 200 * time.Millisecond}.BackOff()

	for i := 0; i < 10; i++ {
		d := b.NextBackOff()
		assert.NotEqual(t, backoff.Stop, d, "zero MaxElapsed retries forever")
		assert.LessOrEqual(t, d, 300*time.Millisecond, "max interval plus jitter")
	}
}

func TestReconnectGivesUp(t *testing.T) {
	b := Reconnect{InitialInterval: time.Millisecond, MaxElapsed: time.Nanosecond}.BackOff()
	time.Sleep(time.Millisecond)
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}
