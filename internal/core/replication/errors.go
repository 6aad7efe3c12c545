package replication

import (
	"github.com/pkg/errors"

	"github.com/zeusync/replicate/internal/core/schema"
)

// Configuration errors. They abort the operation that hit them and are
// never retried.
var (
	ErrChannelAlreadyConnected   = errors.New("replication: connection already has a connected channel")
	ErrAuthTokenMismatch         = errors.New("replication: channel auth token does not match connection")
	ErrOverlappingSelection      = errors.New("replication: entity already selected for replication")
	ErrNoReplicatedKinds         = errors.New("replication: replicated kind list is empty")
	ErrTooManyKinds              = errors.New("replication: replicated kind list needs fewer than 256 entries")
	ErrMissingWireSchema         = schema.ErrMissingWireSchema
	ErrDisapprovedWhileThrottled = errors.New("replication: connection disapproved while a throttled send to it is pending")
	ErrPacketTooSmall            = errors.New("replication: entity update does not fit in an empty packet")
	ErrWireIDExhausted           = errors.New("replication: wire id space exhausted")
	ErrDuplicateRule             = errors.New("replication: selection rule name already used")
)

// Operational errors. They are logged and isolated to one connection.
var (
	ErrMalformedPacket     = errors.New("replication: malformed packet")
	ErrDuplicateConnection = errors.New("replication: auth token bound to a connected host")
	ErrUnknownEntity       = errors.New("replication: entity is not an original")
)

var fatal = []error{
	ErrChannelAlreadyConnected,
	ErrAuthTokenMismatch,
	ErrOverlappingSelection,
	ErrNoReplicatedKinds,
	ErrTooManyKinds,
	ErrMissingWireSchema,
	ErrDisapprovedWhileThrottled,
	ErrPacketTooSmall,
	ErrWireIDExhausted,
	ErrDuplicateRule,
	schema.ErrTooManyTypes,
}

// IsFatal reports whether err is a configuration error that must stop the
// replicator rather than be logged and skipped.
func IsFatal(err error) bool {
	for _, target := range fatal {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
