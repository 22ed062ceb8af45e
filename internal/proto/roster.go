package proto

import (
	"bytes"
	"strings"
)

// RosterSeparator joins names in a roster-update payload.
const RosterSeparator = ";"

// EncodeRoster builds the roster-update payload: names joined by ';', NUL terminated.
func EncodeRoster(names []string) []byte {
	joined := strings.Join(names, RosterSeparator)
	buf := make([]byte, 0, len(joined)+1)
	buf = append(buf, joined...)
	return append(buf, 0)
}

// DecodeRoster parses a roster-update payload. Empty entries are skipped.
func DecodeRoster(payload []byte) []string {
	if i := bytes.IndexByte(payload, 0); i >= 0 {
		payload = payload[:i]
	}
	if len(payload) == 0 {
		return nil
	}

	parts := strings.Split(string(payload), RosterSeparator)
	names := parts[:0]
	for _, p := range parts {
		if p != "" {
			names = append(names, p)
		}
	}
	return names
}
