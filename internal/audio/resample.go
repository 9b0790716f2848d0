package audio

import (
	"math"
	"sync"
)

const filterTaps = 31

// converter moves audio between two fixed rates. Its FIR kernel depends only
// on the rate pair, so converters are built once and shared.
type converter struct {
	src, dst int
	step     float64
	kernel   []float32
}

var converters sync.Map // [2]int -> *converter

func converterFor(src, dst int) *converter {
	key := [2]int{src, dst}
	if c, ok := converters.Load(key); ok {
		return c.(*converter)
	}
	// the filter runs at the higher of the two rates and cuts at the lower Nyquist
	hi, lo := max(src, dst), min(src, dst)
	c := &converter{
		src:    src,
		dst:    dst,
		step:   float64(src) / float64(dst),
		kernel: blackmanSinc(float64(lo)/2/float64(hi), filterTaps),
	}
	actual, _ := converters.LoadOrStore(key, c)
	return actual.(*converter)
}

func (c *converter) run(in []float32) []float32 {
	if c.src > c.dst {
		in = convolve(in, c.kernel)
	}
	n := int(float64(len(in)) / c.step)
	out := make([]float32, n)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * c.step
		j := int(pos)
		if j >= last {
			out[i] = in[last]
			continue
		}
		w := float32(pos - float64(j))
		out[i] = in[j] + (in[j+1]-in[j])*w
	}
	if c.dst > c.src {
		out = convolve(out, c.kernel)
	}
	return out
}

// Resample converts samples from srcRate to dstRate. Downsampling filters
// before interpolating, upsampling after. Matching rates return the input.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate {
		return samples
	}
	return converterFor(srcRate, dstRate).run(samples)
}

// convolve applies a centred FIR kernel, treating samples outside the
// signal as silence.
func convolve(in, kernel []float32) []float32 {
	half := len(kernel) / 2
	out := make([]float32, len(in))
	for i := range out {
		var acc float32
		for k, tap := range kernel {
			j := i + k - half
			if j < 0 || j >= len(in) {
				continue
			}
			acc += in[j] * tap
		}
		out[i] = acc
	}
	return out
}

// blackmanSinc returns a unity-gain low-pass kernel for the normalised
// cutoff fc (cycles per sample).
func blackmanSinc(fc float64, taps int) []float32 {
	centre := taps / 2
	span := float64(taps - 1)
	raw := make([]float64, taps)
	var total float64
	for i := range raw {
		v := 2 * fc
		if d := float64(i - centre); d != 0 {
			v = math.Sin(2*math.Pi*fc*d) / (math.Pi * d)
		}
		phase := float64(i) / span
		v *= 0.42 - 0.5*math.Cos(2*math.Pi*phase) + 0.08*math.Cos(4*math.Pi*phase)
		raw[i] = v
		total += v
	}
	kernel := make([]float32, taps)
	for i, v := range raw {
		kernel[i] = float32(v / total)
	}
	return kernel
}

// speechRates are the LPCM rates accepted by the recognition backends.
var speechRates = []int{8000, 16000, 48000}

// ToSpeechRate resamples to the closest supported recognition rate at or above
// the source rate, capped at the highest supported one.
func ToSpeechRate(samples []float32, rate int) ([]float32, int) {
	target := speechRates[len(speechRates)-1]
	for _, r := range speechRates {
		if r >= rate {
			target = r
			break
		}
	}
	return Resample(samples, rate, target), target
}
