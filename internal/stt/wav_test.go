package stt

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcmSamples(samples ...int16) []byte {
	var buf bytes.Buffer
	for _, s := range samples {
		binary.Write(&buf, binary.LittleEndian, s)
	}
	return buf.Bytes()
}

func TestEncodeWAVRoundTrip(t *testing.T) {
	data, err := encodeWAV(pcmSamples(0, 1000, -1000, 32767, -32768))
	require.NoError(t, err)

	dec := wav.NewDecoder(bytes.NewReader(data))
	dec.ReadInfo()
	require.True(t, dec.IsValidFile())
	assert.Equal(t, uint32(sampleRate), dec.SampleRate)
	assert.Equal(t, uint16(numChannels), dec.NumChans)
	assert.Equal(t, uint16(bitDepth), dec.BitDepth)

	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1000, -1000, 32767, -32768}, buf.Data)
}

func TestByteSliceToIntsIgnoresTrailingByte(t *testing.T) {
	data := append(pcmSamples(42), 0x01)
	assert.Equal(t, []int{42}, byteSliceToInts(data))
}
