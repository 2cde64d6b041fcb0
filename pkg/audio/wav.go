package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidWAV is returned by DecodeWAV for input that is not a PCM16 RIFF file.
var ErrInvalidWAV = errors.New("audio: invalid wav")

const wavHeaderSize = 44

// EncodeWAV wraps PCM16 samples in a canonical 44-byte RIFF/WAVE header.
// channels defaults to 1 when zero or negative.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))

	buf.WriteString("RIFF")
	writeU32(&buf, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	writeU32(&buf, 16)
	writeU16(&buf, 1) // PCM
	writeU16(&buf, uint16(channels))
	writeU32(&buf, uint32(sampleRate))
	writeU32(&buf, uint32(byteRate))
	writeU16(&buf, uint16(blockAlign))
	writeU16(&buf, bitsPerSample)

	buf.WriteString("data")
	writeU32(&buf, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// DecodeWAV parses a canonical PCM16 WAV produced by EncodeWAV and returns the
// raw samples together with the stream format.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < wavHeaderSize ||
		string(data[0:4]) != "RIFF" ||
		string(data[8:12]) != "WAVE" ||
		string(data[12:16]) != "fmt " ||
		string(data[36:40]) != "data" {
		return nil, Format{}, ErrInvalidWAV
	}
	if binary.LittleEndian.Uint16(data[20:22]) != 1 || binary.LittleEndian.Uint16(data[34:36]) != 16 {
		return nil, Format{}, fmt.Errorf("%w: only PCM16 is supported", ErrInvalidWAV)
	}
	f := Format{
		Channels:   int(binary.LittleEndian.Uint16(data[22:24])),
		SampleRate: int(binary.LittleEndian.Uint32(data[24:28])),
	}
	n := int(binary.LittleEndian.Uint32(data[40:44]))
	if n > len(data)-wavHeaderSize {
		return nil, Format{}, fmt.Errorf("%w: truncated data chunk", ErrInvalidWAV)
	}
	return data[wavHeaderSize : wavHeaderSize+n], f, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}
