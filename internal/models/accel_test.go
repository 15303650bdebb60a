package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_EncodeDecode(t *testing.T) {
	buf := &Buffer{Frames: []SensorFrame{
		{X: 1, Y: -1, Z: 1000},
		{X: -16000, Y: 15999, Z: 0},
	}}

	raw := buf.Encode()
	require.Len(t, raw, 2*FrameSize)
	// 小端: 1 -> 0x01 0x00
	assert.Equal(t, []byte{0x01, 0x00}, raw[0:2])
	assert.Equal(t, []byte{0xff, 0xff}, raw[2:4])

	assert.Equal(t, buf.Frames, DecodeFrames(raw))
}

func TestDecodeFrames_IgnoresTrailingBytes(t *testing.T) {
	frames := DecodeFrames([]byte{1, 0, 2, 0, 3, 0, 0xff, 0xff})
	require.Len(t, frames, 1)
	assert.Equal(t, SensorFrame{X: 1, Y: 2, Z: 3}, frames[0])
}

func TestActivityState_String(t *testing.T) {
	assert.Equal(t, "unknown", StateUnknown.String())
	assert.Equal(t, "inactive", StateInactive.String())
	assert.Equal(t, "active", StateActive.String())

	out, err := json.Marshal(Status{State: StateActive, Previous: StateInactive})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"state":"active"`)
	assert.True(t, Status{State: StateActive, Previous: StateInactive}.Changed())
}
