package transport

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ServerToken is the auth token of every client-side channel. A client has
// exactly one peer, so reconnects always reattach to the same Connection.
const ServerToken = "server"

// Reconnect configures the exponential backoff clients use to redial.
type Reconnect struct {
	InitialInterval time.Duration `yaml:"initial_interval" toml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval" toml:"max_interval"`
	// MaxElapsed gives up after this long. Zero retries forever.
	MaxElapsed time.Duration `yaml:"max_elapsed" toml:"max_elapsed"`
}

func DefaultReconnect() Reconnect {
	return Reconnect{
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// BackOff returns a fresh policy for one reconnect attempt sequence.
func (r Reconnect) BackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		b.InitialInterval = r.InitialInterval
	}
	if r.MaxInterval > 0 {
		b.MaxInterval = r.MaxInterval
	}
	b.MaxElapsedTime = r.MaxElapsed
	b.Reset()
	return b
}
