package audio

import (
	"encoding/binary"
	"math"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Mono16k is the capture format.
var Mono16k = Format{SampleRate: InputSampleRate, Channels: 1}

// Mono24k is the synthesis playback format.
var Mono24k = Format{SampleRate: OutputSampleRate, Channels: 1}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sampleAt(pcm, idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sampleAt(pcm, idx+1)
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// Stretch changes the playback speed of 16-bit mono PCM by factor without
// changing the nominal sample rate: factor 1.2 yields audio that plays in
// 1/1.2 of the original time. Pitch shifts with speed. A factor of 1 or less
// than or equal to zero returns pcm unchanged.
func Stretch(pcm []byte, factor float64) []byte {
	if factor <= 0 || factor == 1 {
		return pcm
	}
	// Treat the buffer as if it were recorded at factor*rate and resample it
	// back to rate; 1000 keeps enough precision for 0.8/1.2.
	const base = 1000
	return ResampleMono16(pcm, int(math.Round(base*factor)), base)
}

// BytesToSamples decodes little-endian int16 PCM. A trailing odd byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = sampleAt(pcm, i)
	}
	return out
}

// SamplesToBytes encodes int16 samples as little-endian PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// SampleToFloat maps an int16 sample onto [-1, 1).
func SampleToFloat(s int16) float64 {
	return float64(s) / 32768.0
}

// FloatToSample maps a [-1, 1] float onto int16, clamping out-of-range input.
func FloatToSample(f float64) int16 {
	switch {
	case f >= 1:
		return math.MaxInt16
	case f <= -1:
		return math.MinInt16
	}
	return int16(f * 32767)
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}
