package audio

import "math"

// zeroCrossings is the number of sinc lobes kept on each side of the kernel centre,
// measured at the output cutoff.
const zeroCrossings = 8

// Resample converts in to exactly outLen samples with a Hann-windowed sinc kernel.
// The source rate is implied by the length ratio; when shrinking, the cutoff drops to
// the output Nyquist so the result is band limited.
func Resample(in []int16, outLen int) []int16 {
	if outLen <= 0 {
		return nil
	}
	out := make([]int16, outLen)
	if len(in) == 0 {
		return out
	}
	if len(in) == outLen {
		copy(out, in)
		return out
	}

	step := float64(len(in)) / float64(outLen)
	fc := math.Min(1, 1/step)
	half := int(math.Ceil(zeroCrossings / fc))

	for i := range out {
		// centre of output sample i in input coordinates
		t := (float64(i)+0.5)*step - 0.5
		base := int(math.Floor(t))
		var acc, wsum float64
		for j := base - half + 1; j <= base+half; j++ {
			if j < 0 || j >= len(in) {
				continue
			}
			x := t - float64(j)
			w := fc * sinc(fc*x) * hann(x, float64(half))
			acc += w * float64(in[j])
			wsum += w
		}
		if wsum == 0 {
			out[i] = in[clampIndex(int(math.Round(t)), len(in))]
			continue
		}
		out[i] = clamp16(acc / wsum)
	}
	return out
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

func hann(x, half float64) float64 {
	if math.Abs(x) >= half {
		return 0
	}
	return 0.5 * (1 + math.Cos(math.Pi*x/half))
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
