package detect

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Bin is one frequency-domain sample of a spectrum.
type Bin struct {
	Frequency float64
	Magnitude float64
}

// Spectrum is a magnitude spectrum ordered by strictly increasing frequency.
type Spectrum []Bin

// Frame is a fixed-length slice of the sample buffer.
type Frame struct {
	Index   int
	Time    float64
	Samples []float64
}

// Analyzer turns frames into band-limited magnitude spectra.
// It is safe for concurrent use.
type Analyzer struct {
	size       int
	sampleRate int
	loBin      int
	hiBin      int
	window     []float64

	// fourier.FFT keeps scratch buffers, so each call borrows its own plan.
	plans sync.Pool
}

// NewAnalyzer creates an Analyzer for frames of frameSize samples at
// sampleRate, returning bins within [lo, hi] Hz.
func NewAnalyzer(frameSize, sampleRate int, lo, hi float64) (*Analyzer, error) {
	if !IsPowerOfTwo(frameSize) {
		return nil, fmt.Errorf("%w: got %d", ErrFrameSize, frameSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrSampleRate, sampleRate)
	}

	binWidth := float64(sampleRate) / float64(frameSize)
	loBin := int(math.Ceil(lo / binWidth))
	if loBin < 0 {
		loBin = 0
	}
	hiBin := int(math.Floor(hi / binWidth))
	if hiBin > frameSize/2 {
		hiBin = frameSize / 2
	}

	a := &Analyzer{
		size:       frameSize,
		sampleRate: sampleRate,
		loBin:      loBin,
		hiBin:      hiBin,
		window:     hannWindow(frameSize),
	}
	a.plans.New = func() any { return fourier.NewFFT(frameSize) }
	return a, nil
}

// FrameSize returns the number of samples the analyzer expects per frame.
func (a *Analyzer) FrameSize() int {
	return a.size
}

// BinFrequency returns the centre frequency of FFT bin k.
func (a *Analyzer) BinFrequency(k int) float64 {
	return float64(k) * float64(a.sampleRate) / float64(a.size)
}

// Spectrum windows the samples, transforms them and returns the magnitudes
// of the bins inside the analyzer's band, each divided by sqrt(frameSize).
func (a *Analyzer) Spectrum(samples []float64) (Spectrum, error) {
	if len(samples) != a.size {
		return nil, fmt.Errorf("%w: frame has %d samples, want %d", ErrFrameSize, len(samples), a.size)
	}
	if a.hiBin < a.loBin {
		return Spectrum{}, nil
	}

	windowed := make([]float64, a.size)
	for i, s := range samples {
		windowed[i] = s * a.window[i]
	}

	fft := a.plans.Get().(*fourier.FFT)
	coeff := fft.Coefficients(nil, windowed)
	a.plans.Put(fft)

	scale := math.Sqrt(float64(a.size))
	out := make(Spectrum, 0, a.hiBin-a.loBin+1)
	for k := a.loBin; k <= a.hiBin; k++ {
		out = append(out, Bin{
			Frequency: a.BinFrequency(k),
			Magnitude: cmplx.Abs(coeff[k]) / scale,
		})
	}
	return out, nil
}

// hannWindow returns the periodic Hann window of length n.
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n)))
	}
	return w
}
