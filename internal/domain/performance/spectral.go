package performance

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// fftPool hands out FFT plans of one size. A *fourier.FFT keeps a work
// buffer, so each goroutine borrows its own.
type fftPool struct {
	n    int
	pool sync.Pool
}

func newFFTPool(n int) *fftPool {
	p := &fftPool{n: n}
	p.pool.New = func() any { return fourier.NewFFT(n) }
	return p
}

func (p *fftPool) get() *fourier.FFT  { return p.pool.Get().(*fourier.FFT) }
func (p *fftPool) put(f *fourier.FFT) { p.pool.Put(f) }

// hann returns a periodic Hann window, which overlap-adds to one at a hop
// of n/2.
func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// stft holds the half spectra of frames starting at k*hop over x padded by
// size/2 zeros on both sides, so frame k is centered on sample k*hop.
type stft struct {
	size, hop int
	frames    [][]complex128
	length    int
}

// analyze computes the windowed STFT of x.
func analyze(x []float64, window []float64, hop int, pool *fftPool) *stft {
	n := len(window)
	half := n / 2
	padded := make([]float64, len(x)+n)
	copy(padded[half:], x)
	count := len(x)/hop + 1

	s := &stft{size: n, hop: hop, length: len(x), frames: make([][]complex128, count)}
	f := pool.get()
	defer pool.put(f)
	buf := make([]float64, n)
	for k := 0; k < count; k++ {
		start := k * hop
		for i := range buf {
			j := start + i
			if j < len(padded) {
				buf[i] = padded[j] * window[i]
			} else {
				buf[i] = 0
			}
		}
		s.frames[k] = f.Coefficients(nil, buf)
	}
	return s
}

// magnitudes returns |X| per frame and bin.
func (s *stft) magnitudes() [][]float64 {
	out := make([][]float64, len(s.frames))
	for k, fr := range s.frames {
		m := make([]float64, len(fr))
		for b, c := range fr {
			m[b] = math.Hypot(real(c), imag(c))
		}
		out[k] = m
	}
	return out
}

// synthesize overlap-adds the inverse frames. With a periodic Hann
// analysis window and hop size/2 the unmodified transform reconstructs x.
func (s *stft) synthesize(pool *fftPool) []float64 {
	half := s.size / 2
	padded := make([]float64, s.length+s.size+s.hop)
	f := pool.get()
	defer pool.put(f)
	buf := make([]float64, s.size)
	scale := 1 / float64(s.size)
	for k, fr := range s.frames {
		f.Sequence(buf, fr)
		start := k * s.hop
		for i, v := range buf {
			if start+i < len(padded) {
				padded[start+i] += v * scale
			}
		}
	}
	return padded[half : half+s.length]
}

// binHz converts an FFT bin to Hz.
func binHz(bin, size, rate int) float64 {
	return float64(bin) * float64(rate) / float64(size)
}
