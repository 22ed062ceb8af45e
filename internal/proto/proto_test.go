package proto

import (
	"reflect"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	layout := DefaultLayout()

	tests := []struct {
		name string
		in   Header
		want Header
	}{
		{
			name: "plain recipient",
			in:   Header{ID: 50, Size: 2, Recipient: "B"},
			want: Header{ID: 50, Size: 2, Recipient: "B"},
		},
		{
			name: "broadcast",
			in:   Header{ID: UserIDBase + 7, Size: 0, Recipient: Broadcast},
			want: Header{ID: UserIDBase + 7, Size: 0, Recipient: Broadcast},
		},
		{
			name: "empty recipient",
			in:   Header{ID: 1, Size: 10 << 20},
			want: Header{ID: 1, Size: 10 << 20},
		},
		{
			name: "truncated to field width",
			in:   Header{ID: 9, Recipient: "abcdefghijklmnopqrstuvwxyz"},
			want: Header{ID: 9, Recipient: "abcdefghijklmnopqrs"},
		},
		{
			name: "embedded NUL ends the name",
			in:   Header{ID: 9, Recipient: "ab\x00cd"},
			want: Header{ID: 9, Recipient: "ab"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := layout.AppendHeader(tt.in)
			if len(buf) != 28 {
				t.Fatalf("header size = %d, want 28", len(buf))
			}
			if buf[len(buf)-1] != 0 {
				t.Fatalf("recipient field is not NUL terminated")
			}
			got := layout.ParseHeader(buf)
			if got != tt.want {
				t.Fatalf("round trip = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCustomNameFieldSize(t *testing.T) {
	layout := Layout{NameFieldSize: 8}
	if layout.HeaderSize() != 16 {
		t.Fatalf("header size = %d, want 16", layout.HeaderSize())
	}
	got := layout.ParseHeader(layout.AppendHeader(Header{ID: 3, Recipient: "longername"}))
	if got.Recipient != "longern" {
		t.Fatalf("recipient = %q, want %q", got.Recipient, "longern")
	}
}

func TestRosterPayload(t *testing.T) {
	payload := EncodeRoster([]string{"alice", "bob"})
	if string(payload) != "alice;bob\x00" {
		t.Fatalf("payload = %q", payload)
	}

	got := DecodeRoster(payload)
	if !reflect.DeepEqual(got, []string{"alice", "bob"}) {
		t.Fatalf("decoded = %v", got)
	}

	if got := DecodeRoster(EncodeRoster(nil)); len(got) != 0 {
		t.Fatalf("empty roster decoded to %v", got)
	}
	if got := DecodeRoster([]byte("a;;b;")); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("legacy trailing separator decoded to %v", got)
	}
}

func TestReservedIDs(t *testing.T) {
	for _, id := range []uint32{IDHello, IDGoodbye, IDRosterUpdate, 15} {
		if !IsReserved(id) {
			t.Errorf("id %d should be reserved", id)
		}
	}
	for _, id := range []uint32{0, 16, 50, 999, UserIDBase} {
		if IsReserved(id) {
			t.Errorf("id %d should not be reserved", id)
		}
	}

	if IDName(IDRosterUpdate) != "roster_update" {
		t.Errorf("unexpected name %q", IDName(IDRosterUpdate))
	}
	if IDName(UserIDBase+3) != "user+3" {
		t.Errorf("unexpected name %q", IDName(UserIDBase+3))
	}
	if IDName(50) != "id_50" {
		t.Errorf("unexpected name %q", IDName(50))
	}
}
