package applemidi

import (
	"testing"
	"time"
)

func TestParseExchange_Name(t *testing.T) {
	tests := []struct {
		name string
		tail []byte
		want string
	}{
		{"absent", nil, ""},
		{"terminated", []byte("Studio\x00"), "Studio"},
		{"unterminated", []byte("Studio"), "Studio"},
		{"stops at first nul", []byte("A\x00B\x00"), "A"},
		{"invalid utf-8", []byte{'x', 0xFF, 0x00}, "x�"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := append(AppendExchange(nil, Exchange{Command: CmdInvitation}), tt.tail...)
			ex, ok := ParseExchange(data)
			if !ok {
				t.Fatal("parse failed")
			}
			if ex.Name != tt.want {
				t.Errorf("name = %q, want %q", ex.Name, tt.want)
			}
		})
	}
}

func TestAppendExchange_Layout(t *testing.T) {
	got := AppendExchange(nil, Exchange{
		Command: CmdAccept, Version: 2, Token: 0xAABBCCDD, SSRC: 0x01020304, Name: "Move",
	})
	want := []byte{
		0xFF, 0xFF, 'O', 'K',
		0, 0, 0, 2,
		0xAA, 0xBB, 0xCC, 0xDD,
		1, 2, 3, 4,
		'M', 'o', 'v', 'e', 0,
	}
	if string(got) != string(want) {
		t.Errorf("got % x\nwant % x", got, want)
	}
}

func TestIsCommand(t *testing.T) {
	if !IsCommand([]byte{0xFF, 0xFF}) {
		t.Error("signature not recognised")
	}
	if IsCommand([]byte{0xFF}) || IsCommand([]byte{0x80, 0x61}) {
		t.Error("non-command recognised")
	}
}

// timeAgo returns a start time far enough in the past that the first
// tick count is non-zero.
func timeAgo(t *testing.T) time.Time {
	t.Helper()
	return time.Now().Add(-time.Second)
}
