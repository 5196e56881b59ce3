package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RoomPrefix is the namespace prefix of relay room names.
const RoomPrefix = "observable-"

// GenerateID generates a random ID with prefix
func GenerateID(prefix string) string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(b))
}

// GenerateClientID generates a unique relay client ID
func GenerateClientID() string {
	return uuid.New().String()
}

// GenerateRoomToken returns a lowercase hexadecimal room token derived from
// a random integer in [0, 0xFFFFFF].
func GenerateRoomToken() string {
	n, err := rand.Int(rand.Reader, big.NewInt(0x1000000))
	if err != nil {
		// crypto/rand only fails when the platform entropy source is broken
		return fmt.Sprintf("%x", time.Now().UnixNano()&0xFFFFFF)
	}
	return fmt.Sprintf("%x", n.Int64())
}

// RoomName returns the relay room name for a token.
func RoomName(token string) string {
	return RoomPrefix + token
}

// IsValidRoomToken reports whether token is a non-empty lowercase hex string
// that fits in 24 bits.
func IsValidRoomToken(token string) bool {
	if token == "" || len(token) > 6 {
		return false
	}
	for _, r := range token {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}

// ArtifactName returns the download filename for a finalized recording,
// audio_<unixMillis>.<ext>.
func ArtifactName(ts time.Time, ext string) string {
	return fmt.Sprintf("audio_%d.%s", ts.UnixMilli(), strings.TrimPrefix(ext, "."))
}
