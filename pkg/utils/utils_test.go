package utils

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateID(t *testing.T) {
	id1 := GenerateID("test")
	id2 := GenerateID("test")

	if id1 == id2 {
		t.Error("expected different IDs")
	}

	if !strings.HasPrefix(id1, "test_") {
		t.Errorf("expected prefix 'test_', got %s", id1)
	}
}

func TestGenerateClientID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateClientID()
		if seen[id] {
			t.Fatalf("duplicate client id %s", id)
		}
		seen[id] = true
	}
}

func TestGenerateRoomToken(t *testing.T) {
	for i := 0; i < 200; i++ {
		token := GenerateRoomToken()
		if !IsValidRoomToken(token) {
			t.Fatalf("generated token %q is not valid", token)
		}
	}
}

func TestIsValidRoomToken(t *testing.T) {
	tests := []struct {
		token string
		want  bool
	}{
		{"abc123", true},
		{"0", true},
		{"ffffff", true},
		{"", false},
		{"ABC123", false},
		{"1234567", false},
		{"xyz", false},
	}
	for _, tt := range tests {
		if got := IsValidRoomToken(tt.token); got != tt.want {
			t.Errorf("IsValidRoomToken(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestRoomName(t *testing.T) {
	if got := RoomName("abc123"); got != "observable-abc123" {
		t.Errorf("RoomName() = %q, want observable-abc123", got)
	}
}

func TestArtifactName(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	if got := ArtifactName(ts, "wav"); got != "audio_1700000000000.wav" {
		t.Errorf("ArtifactName() = %q", got)
	}
	// leading dot on the extension is tolerated
	if got := ArtifactName(ts, ".opus"); got != "audio_1700000000000.opus" {
		t.Errorf("ArtifactName() = %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "500ms"},
		{2 * time.Second, "2.00s"},
		{90 * time.Second, "1m30s"},
		{90 * time.Minute, "1h30m"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
