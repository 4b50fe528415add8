package stt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavBuffer is an in-memory io.WriteSeeker: the WAV encoder seeks back to
// patch the header once the data length is known.
type wavBuffer struct {
	data []byte
	pos  int
}

func (b *wavBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *wavBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(b.pos) + offset
	case io.SeekEnd:
		next = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position")
	}
	b.pos = int(next)
	return next, nil
}

// encodeWAV wraps raw S16LE PCM in a WAV container.
func encodeWAV(pcmData []byte) ([]byte, error) {
	buf := &wavBuffer{}
	enc := wav.NewEncoder(buf, sampleRate, bitDepth, numChannels, 1)

	if err := enc.Write(&audio.IntBuffer{
		Data:   byteSliceToInts(pcmData),
		Format: &audio.Format{SampleRate: sampleRate, NumChannels: numChannels},
	}); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav: %w", err)
	}
	return buf.data, nil
}

// byteSliceToInts reads each 16-bit little-endian sample as an int.
func byteSliceToInts(pcmData []byte) []int {
	var samples []int
	buf := bytes.NewBuffer(pcmData)
	for {
		var sample int16
		if err := binary.Read(buf, binary.LittleEndian, &sample); err != nil {
			break
		}
		samples = append(samples, int(sample))
	}
	return samples
}
