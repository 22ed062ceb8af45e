package core

import (
	"github.com/vovakirdan/wirebus/internal/proto"
	"github.com/vovakirdan/wirebus/internal/wire"
)

// Message is a frame waiting in the queue, tagged with the channel it arrived on.
// A nil Sender marks a message that originates from the hub itself.
type Message struct {
	Sender    *wire.Channel
	ID        uint32
	Payload   []byte
	Recipient string
}

func rosterUpdate() Message {
	return Message{ID: proto.IDRosterUpdate, Recipient: proto.Broadcast}
}

func (m Message) isRosterUpdate() bool {
	return m.Sender == nil && m.ID == proto.IDRosterUpdate
}

// addressedTo decides whether peer should get a copy. The sender never does.
func (m Message) addressedTo(peer *wire.Channel) bool {
	if m.Sender != nil && peer.Equal(m.Sender) {
		return false
	}
	if m.Recipient == proto.Broadcast {
		return true
	}
	return m.Recipient != "" && peer.Name() == m.Recipient
}
