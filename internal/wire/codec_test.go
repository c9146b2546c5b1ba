package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, version := range []ProtocolVersion{V1, V2} {
		t.Run(version.String(), func(t *testing.T) {
			msgs := []Message{
				SyncStep1([]byte{1, 2, 3}),
				SyncStep2([]byte("diff")),
				Awareness([]byte("awareness-update")),
			}
			frames := EncodeMessages(version, false, "", false, msgs)
			require.Len(t, frames, 1)

			_, decoded, err := DecodeAll(version, false, frames[0])
			require.NoError(t, err)
			require.Len(t, decoded, 3)
			assert.Equal(t, KindSyncStep1, decoded[0].Kind)
			assert.Equal(t, []byte{1, 2, 3}, decoded[0].Payload)
			assert.Equal(t, KindSyncStep2, decoded[1].Kind)
			assert.Equal(t, []byte("diff"), decoded[1].Payload)
			assert.Equal(t, KindAwareness, decoded[2].Kind)
		})
	}
}

func TestNamePrefixRoundTrip(t *testing.T) {
	msgs := []Message{AwarenessQuery()}
	frames := EncodeMessages(V1, true, "docs/readme", false, msgs)
	require.Len(t, frames, 1)

	name, decoded, err := DecodeAll(V1, true, frames[0])
	require.NoError(t, err)
	assert.Equal(t, "docs/readme", name)
	require.Len(t, decoded, 1)
	assert.Equal(t, KindAwarenessQuery, decoded[0].Kind)
}

func TestPipeliningProducesOneFrame(t *testing.T) {
	msgs := []Message{SyncStep2([]byte("a")), Awareness([]byte("b"))}
	frames := EncodeMessages(V2, false, "", false, msgs)
	assert.Len(t, frames, 1)
}

func TestDisablePipeliningProducesOneFramePerMessage(t *testing.T) {
	msgs := []Message{SyncStep2([]byte("a")), Awareness([]byte("b"))}
	frames := EncodeMessages(V2, false, "", true, msgs)
	assert.Len(t, frames, 2)

	// Concatenating the split frames equals the pipelined frame.
	pipelined := EncodeMessages(V2, false, "", false, msgs)
	require.Len(t, pipelined, 1)
	var concatenated []byte
	for _, f := range frames {
		concatenated = append(concatenated, f...)
	}
	assert.Equal(t, pipelined[0], concatenated)
}

func TestEmptyMessagesYieldNoFrames(t *testing.T) {
	assert.Empty(t, EncodeMessages(V1, false, "", false, nil))
	assert.Empty(t, EncodeMessages(V1, false, "", true, nil))
}

func TestMalformedMessageTerminatesSequenceButKeepsEarlierOnes(t *testing.T) {
	msgs := []Message{SyncStep1([]byte{9})}
	frames := EncodeMessages(V1, false, "", false, msgs)
	frame := append(frames[0], 0xFF) // trailing garbage tag byte with no payload

	_, decoded, err := DecodeAll(V1, false, frame)
	require.Error(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, KindSyncStep1, decoded[0].Kind)
}

func TestCustomMessageRoundTrip(t *testing.T) {
	msgs := []Message{Custom(42, []byte("payload"))}
	frames := EncodeMessages(V2, false, "", false, msgs)

	_, decoded, err := DecodeAll(V2, false, frames[0])
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, KindCustom, decoded[0].Kind)
	assert.Equal(t, uint64(42), decoded[0].CustomTag)
	assert.Equal(t, []byte("payload"), decoded[0].Payload)
}

func TestParseProtocolVersion(t *testing.T) {
	v, err := ParseProtocolVersion(0)
	require.NoError(t, err)
	assert.Equal(t, V1, v)

	v, err = ParseProtocolVersion(1)
	require.NoError(t, err)
	assert.Equal(t, V2, v)

	_, err = ParseProtocolVersion(99)
	assert.Error(t, err)
}
