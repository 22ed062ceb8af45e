package proto

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// fixedHeaderSize covers the id and size fields.
const fixedHeaderSize = 8

// Header is the fixed-layout prefix of every frame:
// id (uint32) | size (uint32) | recipient (NameFieldSize bytes, NUL padded).
// Integers use the host byte order.
type Header struct {
	ID        uint32
	Size      uint32
	Recipient string
}

// Layout fixes the width of the recipient field.
type Layout struct {
	NameFieldSize int
}

// DefaultLayout uses the 20 byte recipient field.
func DefaultLayout() Layout {
	return Layout{NameFieldSize: DefaultNameFieldSize}
}

func (l Layout) nameField() int {
	if l.NameFieldSize < 2 {
		return DefaultNameFieldSize
	}
	return l.NameFieldSize
}

// HeaderSize returns the encoded header length in bytes.
func (l Layout) HeaderSize() int {
	return fixedHeaderSize + l.nameField()
}

// MaxNameLen is the longest name that survives encoding; one byte stays NUL.
func (l Layout) MaxNameLen() int {
	return l.nameField() - 1
}

// TruncateName cuts name to what the recipient field can carry.
func (l Layout) TruncateName(name string) string {
	if i := strings.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	if len(name) > l.MaxNameLen() {
		name = name[:l.MaxNameLen()]
	}
	return name
}

// PutHeader encodes h into buf, which must be at least HeaderSize bytes long.
func (l Layout) PutHeader(buf []byte, h Header) {
	binary.NativeEndian.PutUint32(buf[0:4], h.ID)
	binary.NativeEndian.PutUint32(buf[4:8], h.Size)

	field := buf[fixedHeaderSize:l.HeaderSize()]
	clear(field)
	copy(field, l.TruncateName(h.Recipient))
}

// AppendHeader encodes h into a freshly allocated slice.
func (l Layout) AppendHeader(h Header) []byte {
	buf := make([]byte, l.HeaderSize())
	l.PutHeader(buf, h)
	return buf
}

// ParseHeader decodes a header from buf, which must be at least HeaderSize bytes long.
func (l Layout) ParseHeader(buf []byte) Header {
	field := buf[fixedHeaderSize:l.HeaderSize()]
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return Header{
		ID:        binary.NativeEndian.Uint32(buf[0:4]),
		Size:      binary.NativeEndian.Uint32(buf[4:8]),
		Recipient: string(field),
	}
}
