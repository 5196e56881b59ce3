package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalPayloadKind(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		kind SignalKind
	}{
		{"sdp", `{"sdp":{"type":"offer","sdp":"v=0"}}`, SignalSDP},
		{"candidate", `{"candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 1 typ host"}}`, SignalCandidate},
		{"empty object", `{}`, SignalUnknown},
		{"unrelated keys", `{"hello":"world"}`, SignalUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := DecodeSignalPayload([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.kind, p.Kind())
		})
	}
}

func TestMemberListContains(t *testing.T) {
	list := MemberList{{ID: "a"}, {ID: "b"}}
	assert.True(t, list.Contains("a"))
	assert.False(t, list.Contains("c"))
}
