// Package proto describes the frames exchanged between the hub and its clients.
package proto

import "strconv"

const (
	// IDHello is sent by a client right after connecting; the recipient field carries its name.
	IDHello uint32 = 1
	// IDGoodbye announces an orderly leave; the recipient field carries the departing name.
	IDGoodbye uint32 = 2
	// IDRosterUpdate carries the full list of connected client names.
	IDRosterUpdate uint32 = 3

	// lastReservedID bounds the range kept for protocol bookkeeping.
	lastReservedID uint32 = 15

	// UserIDBase is the first id applications are encouraged to use.
	UserIDBase uint32 = 1_000_000
)

const (
	// Broadcast addresses every connected client except the sender.
	Broadcast = "*"

	// DefaultSocketPath is the well-known hub address.
	DefaultSocketPath = "/tmp/wirebus_hub"
	// DefaultNameFieldSize is the width of the recipient field in the frame header.
	DefaultNameFieldSize = 20
	// DefaultMaxPayloadSize caps a single payload (10 MiB).
	DefaultMaxPayloadSize uint32 = 10 << 20
)

// Frame is one decoded message.
type Frame struct {
	ID        uint32
	Recipient string
	Payload   []byte
}

// IsReserved reports whether id belongs to the protocol range.
func IsReserved(id uint32) bool {
	return id >= IDHello && id <= lastReservedID
}

var idNames = map[uint32]string{
	IDHello:        "hello",
	IDGoodbye:      "goodbye",
	IDRosterUpdate: "roster_update",
}

// IDName returns a printable name for id, used in logs.
func IDName(id uint32) string {
	if name, ok := idNames[id]; ok {
		return name
	}
	if IsReserved(id) {
		return "reserved_" + strconv.FormatUint(uint64(id), 10)
	}
	if id >= UserIDBase {
		return "user+" + strconv.FormatUint(uint64(id-UserIDBase), 10)
	}
	return "id_" + strconv.FormatUint(uint64(id), 10)
}
