package pipeline

import (
	"math"

	"github.com/MrWong99/vocaledge/pkg/audio"
)

// fftSize is the spectrum window length in samples. The spectrum has
// fftSize/2 frequency bins.
const fftSize = 256

// Byte scaling range for bin magnitudes, in dBFS.
const (
	minDecibels = -100.0
	maxDecibels = -30.0
)

// spectrumEnergy maps the most recent fftSize samples to a loudness proxy in
// [0, 1]. Each bin magnitude is converted to a byte on the
// [minDecibels, maxDecibels] scale and the result is the mean byte value
// divided by 128. Fewer than fftSize samples are zero-padded at the front.
func spectrumEnergy(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	if len(samples) > fftSize {
		samples = samples[len(samples)-fftSize:]
	}

	var re, im [fftSize]float64
	off := fftSize - len(samples)
	for i, s := range samples {
		n := off + i
		re[n] = audio.SampleToFloat(s) * blackman(n, fftSize)
	}
	fft(re[:], im[:])

	const bins = fftSize / 2
	var sum float64
	for k := range bins {
		mag := math.Hypot(re[k], im[k]) / fftSize
		if mag == 0 {
			continue
		}
		db := 20 * math.Log10(mag)
		b := math.Floor((db - minDecibels) / (maxDecibels - minDecibels) * 255)
		sum += max(0, min(255, b))
	}
	return max(0, min(1, sum/bins/128))
}

func blackman(n, size int) float64 {
	x := 2 * math.Pi * float64(n) / float64(size)
	return 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
}

// fft is an in-place iterative radix-2 Cooley-Tukey transform. len(re) must be
// a power of two and equal to len(im).
func fft(re, im []float64) {
	n := len(re)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}
	for size := 2; size <= n; size <<= 1 {
		half := size / 2
		ang := -2 * math.Pi / float64(size)
		wr, wi := math.Cos(ang), math.Sin(ang)
		for start := 0; start < n; start += size {
			cr, ci := 1.0, 0.0
			for k := range half {
				a, b := start+k, start+k+half
				tr := re[b]*cr - im[b]*ci
				ti := re[b]*ci + im[b]*cr
				re[b], im[b] = re[a]-tr, im[a]-ti
				re[a], im[a] = re[a]+tr, im[a]+ti
				cr, ci = cr*wr-ci*wi, cr*wi+ci*wr
			}
		}
	}
}
