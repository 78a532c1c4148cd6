package signal

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	t.Parallel()
	raw := `{"type":"offer","senderId":"v1","senderType":"Viewer","receiverId":"UNITY-1","payload":"{}","timestamp":"2026-03-01T10:00:00.5Z"}`
	env, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, TypeOffer, env.Type)
	assert.Equal(t, "v1", env.SenderID)
	assert.Equal(t, RoleViewer, env.SenderType)
	assert.Equal(t, "UNITY-1", env.ReceiverID)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 500_000_000, time.UTC), env.Timestamp.UTC())
}

func TestDecodeTimestampOptional(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{
		`{"type":"ice","senderId":"v1","receiverId":"R","payload":""}`,
		`{"type":"ice","senderId":"v1","receiverId":"R","payload":"","timestamp":""}`,
	} {
		env, err := Decode([]byte(raw))
		require.NoError(t, err, raw)
		assert.True(t, env.Timestamp.IsZero())
	}
}

func TestDecodeLenientTimestamp(t *testing.T) {
	t.Parallel()
	cases := map[string]time.Time{
		"2025-01-01T12:00:00":       time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		"2025-01-01T12:00:00.123":   time.Date(2025, 1, 1, 12, 0, 0, 123_000_000, time.UTC),
		"2025-01-01 12:00:00":       time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		"2025-01-01T12:00:00+09:00": time.Date(2025, 1, 1, 3, 0, 0, 0, time.UTC),
		"yesterday":                 {},
	}
	for stamp, want := range cases {
		t.Run(stamp, func(t *testing.T) {
			raw := `{"type":"offer","senderId":"v1","receiverId":"R","payload":"{}","timestamp":"` + stamp + `"}`
			env, err := Decode([]byte(raw))
			require.NoError(t, err)
			assert.Equal(t, TypeOffer, env.Type)
			assert.True(t, want.Equal(env.Timestamp), "got %v", env.Timestamp)
		})
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"not json":      `{{`,
		"missing type":  `{"senderId":"v1"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			var de *DecodeError
			require.True(t, errors.As(err, &de), "got %v", err)
			assert.Equal(t, "envelope", de.What)
		})
	}
}

func TestEncodeStampsTime(t *testing.T) {
	t.Parallel()
	before := time.Now().UTC().Add(-time.Second)
	data, err := Encode(Envelope{Type: TypeAnswer, SenderID: "R", ReceiverID: "v1", Payload: "x"})
	require.NoError(t, err)

	env, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, env.Timestamp.After(before))
	assert.Contains(t, string(data), `"receiverId":"v1"`)
}

func TestSDPPayload(t *testing.T) {
	t.Parallel()
	payload := EncodeSDP(TypeAnswer, "v=0\r\n")
	sdp, err := DecodeSDP(payload)
	require.NoError(t, err)
	assert.Equal(t, "answer", sdp.Type)
	assert.Equal(t, "v=0\r\n", sdp.SDP)

	_, err = DecodeSDP(`{"type":"offer"}`)
	assert.Error(t, err)
	_, err = DecodeSDP(`nope`)
	assert.Error(t, err)
}

func TestCandidatePayload(t *testing.T) {
	t.Parallel()
	c, err := DecodeCandidate(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}`)
	require.NoError(t, err)
	init := c.Init()
	require.NotNil(t, init.SDPMid)
	require.NotNil(t, init.SDPMLineIndex)
	assert.Equal(t, "0", *init.SDPMid)
	assert.Equal(t, uint16(0), *init.SDPMLineIndex)

	back, err := DecodeCandidate(EncodeCandidate(CandidateFromInit(init)))
	require.NoError(t, err)
	assert.Equal(t, c.Candidate, back.Candidate)

	// null mid and index stay nil
	c, err = DecodeCandidate(`{"candidate":"x","sdpMid":null,"sdpMLineIndex":null}`)
	require.NoError(t, err)
	assert.Nil(t, c.SDPMid)
	assert.Nil(t, c.SDPMLineIndex)
}
