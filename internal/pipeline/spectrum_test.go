package pipeline

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestFFT_Impulse(t *testing.T) {
	t.Parallel()
	re := make([]float64, 16)
	im := make([]float64, 16)
	re[0] = 1
	fft(re, im)
	for k := range re {
		if math.Abs(re[k]-1) > 1e-9 || math.Abs(im[k]) > 1e-9 {
			t.Fatalf("bin %d = %v%+vi, want 1", k, re[k], im[k])
		}
	}
}

func TestFFT_SinePeak(t *testing.T) {
	t.Parallel()
	const n, bin = 64, 5
	re := make([]float64, n)
	im := make([]float64, n)
	for i := range re {
		re[i] = math.Sin(2 * math.Pi * bin * float64(i) / n)
	}
	fft(re, im)
	peak, peakMag := 0, 0.0
	for k := range n / 2 {
		if m := math.Hypot(re[k], im[k]); m > peakMag {
			peak, peakMag = k, m
		}
	}
	if peak != bin {
		t.Errorf("peak bin = %d, want %d", peak, bin)
	}
	if math.Abs(peakMag-n/2) > 1e-6 {
		t.Errorf("peak magnitude = %v, want %v", peakMag, n/2)
	}
}

func noise(n int, amp float64, seed uint64) []int16 {
	r := rand.New(rand.NewPCG(seed, seed+1))
	out := make([]int16, n)
	for i := range out {
		out[i] = int16((r.Float64()*2 - 1) * amp * 32767)
	}
	return out
}

func TestSpectrumEnergy(t *testing.T) {
	t.Parallel()
	if got := spectrumEnergy(nil); got != 0 {
		t.Errorf("empty window energy = %v, want 0", got)
	}
	if got := spectrumEnergy(make([]int16, fftSize)); got != 0 {
		t.Errorf("silent window energy = %v, want 0", got)
	}

	quiet := spectrumEnergy(noise(fftSize, 0.001, 1))
	loud := spectrumEnergy(noise(fftSize, 0.5, 1))
	if quiet <= 0 || quiet >= loud {
		t.Errorf("quiet = %v, loud = %v; want 0 < quiet < loud", quiet, loud)
	}
	if loud < 0.9 || loud > 1 {
		t.Errorf("loud energy = %v, want close to the clamp at 1", loud)
	}
}

func TestSpectrumEnergy_UsesLatestSamples(t *testing.T) {
	t.Parallel()
	window := append(noise(fftSize, 0.5, 2), make([]int16, fftSize)...)
	if got := spectrumEnergy(window); got != 0 {
		t.Errorf("energy = %v, want 0 when the latest samples are silent", got)
	}
}
