package tensor

import (
	"fmt"
	"math"
	"runtime"
	"sync"
)

// ComputeConfig controls how the convolutional kernels split work across
// goroutines. Work is partitioned per image, so results do not depend on
// the worker count.
type ComputeConfig struct {
	// Workers is the number of goroutines per kernel. Zero means
	// runtime.NumCPU().
	Workers int
}

// DefaultComputeConfig uses every CPU.
func DefaultComputeConfig() ComputeConfig {
	return ComputeConfig{Workers: 0}
}

func (c ComputeConfig) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

var (
	computeMu     sync.RWMutex
	computeConfig = DefaultComputeConfig()
)

// SetComputeConfig replaces the kernel configuration.
func SetComputeConfig(cfg ComputeConfig) {
	computeMu.Lock()
	defer computeMu.Unlock()
	computeConfig = cfg
}

// GetComputeConfig returns the kernel configuration in use.
func GetComputeConfig() ComputeConfig {
	computeMu.RLock()
	defer computeMu.RUnlock()
	return computeConfig
}

// parallelFor calls fn(i) for i in [0, n), splitting contiguous index
// ranges across workers.
func parallelFor(n int, fn func(i int)) {
	workers := GetComputeConfig().workers()
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	per := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < n; start += per {
		end := start + per
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				fn(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// scratch recycles im2col buffers between convolutions.
var scratch = sync.Pool{
	New: func() any {
		buf := make([]float64, 0)
		return &buf
	},
}

func getScratch(size int) *[]float64 {
	buf := scratch.Get().(*[]float64)
	if cap(*buf) < size {
		*buf = make([]float64, size)
	}
	*buf = (*buf)[:size]
	return buf
}

func require4D(op string, x *Tensor) (n, c, h, w int) {
	if len(x.shape) != 4 {
		panic(fmt.Errorf("%w: %s expects [N C H W], got %v", ErrInvalidShape, op, x.shape))
	}
	return x.shape[0], x.shape[1], x.shape[2], x.shape[3]
}

func outSize(in, kernel, stride, padding int) int {
	return (in+2*padding-kernel)/stride + 1
}

// Conv2D convolves x [N C H W] with weight [O C KH KW] and adds the
// optional bias [O]. It lowers each image with im2col and runs one GEMM
// per image.
func Conv2D(x, weight, bias *Tensor, stride, padding int) *Tensor {
	inferenceOnly("Conv2D", x, weight, bias)
	n, c, h, w := require4D("Conv2D", x)
	if len(weight.shape) != 4 || weight.shape[1] != c {
		panic(fmt.Errorf("%w: conv weight %v for input %v", ErrShapeMismatch, weight.shape, x.shape))
	}
	o, kh, kw := weight.shape[0], weight.shape[2], weight.shape[3]
	if bias != nil && (len(bias.shape) != 1 || bias.shape[0] != o) {
		panic(fmt.Errorf("%w: conv bias %v for %d filters", ErrShapeMismatch, bias.shape, o))
	}
	if stride <= 0 || padding < 0 {
		panic(fmt.Errorf("%w: conv stride %d padding %d", ErrInvalidShape, stride, padding))
	}
	oh, ow := outSize(h, kh, stride, padding), outSize(w, kw, stride, padding)
	if oh <= 0 || ow <= 0 {
		panic(fmt.Errorf("%w: conv kernel %dx%d larger than padded input %dx%d", ErrInvalidShape, kh, kw, h, w))
	}

	out := New(n, o, oh, ow)
	k := c * kh * kw
	pixels := oh * ow
	wm := denseOf(o, k, weight.data)

	parallelFor(n, func(img int) {
		buf := getScratch(k * pixels)
		defer scratch.Put(buf)
		cols := *buf
		im2col(x.data[img*c*h*w:(img+1)*c*h*w], cols, c, h, w, kh, kw, stride, padding, oh, ow)

		dst := out.data[img*o*pixels : (img+1)*o*pixels]
		denseOf(o, pixels, dst).Mul(wm, denseOf(k, pixels, cols))
		if bias != nil {
			for f := 0; f < o; f++ {
				b := bias.data[f]
				row := dst[f*pixels : (f+1)*pixels]
				for i := range row {
					row[i] += b
				}
			}
		}
	})
	return out
}

// im2col writes the (C·KH·KW) x (OH·OW) patch matrix of one image.
func im2col(src, cols []float64, c, h, w, kh, kw, stride, padding, oh, ow int) {
	pixels := oh * ow
	for ch := 0; ch < c; ch++ {
		plane := src[ch*h*w : (ch+1)*h*w]
		for ki := 0; ki < kh; ki++ {
			for kj := 0; kj < kw; kj++ {
				row := cols[((ch*kh+ki)*kw+kj)*pixels:][:pixels]
				for y := 0; y < oh; y++ {
					iy := y*stride - padding + ki
					dst := row[y*ow : (y+1)*ow]
					if iy < 0 || iy >= h {
						for i := range dst {
							dst[i] = 0
						}
						continue
					}
					srcRow := plane[iy*w : (iy+1)*w]
					for x := 0; x < ow; x++ {
						ix := x*stride - padding + kj
						if ix < 0 || ix >= w {
							dst[x] = 0
						} else {
							dst[x] = srcRow[ix]
						}
					}
				}
			}
		}
	}
}

// BatchNorm2D normalises x [N C H W] per channel with fixed statistics:
//
//	y = (x - mean) / sqrt(var + eps) * weight + bias
func BatchNorm2D(x, weight, bias, mean, variance *Tensor, eps float64) *Tensor {
	inferenceOnly("BatchNorm2D", x, weight, bias)
	n, c, h, w := require4D("BatchNorm2D", x)
	for _, p := range []*Tensor{weight, bias, mean, variance} {
		if len(p.shape) != 1 || p.shape[0] != c {
			panic(fmt.Errorf("%w: batch norm parameter %v for %d channels", ErrShapeMismatch, p.shape, c))
		}
	}

	scale := make([]float64, c)
	shift := make([]float64, c)
	for ch := 0; ch < c; ch++ {
		scale[ch] = weight.data[ch] / math.Sqrt(variance.data[ch]+eps)
		shift[ch] = bias.data[ch] - mean.data[ch]*scale[ch]
	}

	out := New(n, c, h, w)
	plane := h * w
	parallelFor(n, func(img int) {
		for ch := 0; ch < c; ch++ {
			off := (img*c + ch) * plane
			src := x.data[off : off+plane]
			dst := out.data[off : off+plane]
			s, b := scale[ch], shift[ch]
			for i, v := range src {
				dst[i] = v*s + b
			}
		}
	})
	return out
}

// BatchStats returns the per-channel mean and biased variance of x
// [N C H W].
func BatchStats(x *Tensor) (mean, variance *Tensor) {
	n, c, h, w := require4D("BatchStats", x)
	mean = New(c)
	variance = New(c)
	count := float64(n * h * w)
	plane := h * w
	for ch := 0; ch < c; ch++ {
		sum := 0.0
		for img := 0; img < n; img++ {
			off := (img*c + ch) * plane
			for _, v := range x.data[off : off+plane] {
				sum += v
			}
		}
		mu := sum / count
		sq := 0.0
		for img := 0; img < n; img++ {
			off := (img*c + ch) * plane
			for _, v := range x.data[off : off+plane] {
				d := v - mu
				sq += d * d
			}
		}
		mean.data[ch] = mu
		variance.data[ch] = sq / count
	}
	return mean, variance
}

// MaxPool2D takes the maximum over kernel x kernel windows. Padded cells
// never win.
func MaxPool2D(x *Tensor, kernel, stride, padding int) *Tensor {
	inferenceOnly("MaxPool2D", x)
	n, c, h, w := require4D("MaxPool2D", x)
	oh, ow := outSize(h, kernel, stride, padding), outSize(w, kernel, stride, padding)
	if oh <= 0 || ow <= 0 {
		panic(fmt.Errorf("%w: pool kernel %d larger than padded input %dx%d", ErrInvalidShape, kernel, h, w))
	}

	out := New(n, c, oh, ow)
	parallelFor(n, func(img int) {
		for ch := 0; ch < c; ch++ {
			src := x.data[(img*c+ch)*h*w:][:h*w]
			dst := out.data[(img*c+ch)*oh*ow:][:oh*ow]
			for y := 0; y < oh; y++ {
				for xx := 0; xx < ow; xx++ {
					best := math.Inf(-1)
					for ki := 0; ki < kernel; ki++ {
						iy := y*stride - padding + ki
						if iy < 0 || iy >= h {
							continue
						}
						for kj := 0; kj < kernel; kj++ {
							ix := xx*stride - padding + kj
							if ix < 0 || ix >= w {
								continue
							}
							if v := src[iy*w+ix]; v > best {
								best = v
							}
						}
					}
					dst[y*ow+xx] = best
				}
			}
		}
	})
	return out
}

// AdaptiveAvgPool2D averages x into an outH x outW grid. Cell (i, j)
// covers rows [⌊i·H/outH⌋, ⌈(i+1)·H/outH⌉) and the matching columns.
func AdaptiveAvgPool2D(x *Tensor, outH, outW int) *Tensor {
	inferenceOnly("AdaptiveAvgPool2D", x)
	n, c, h, w := require4D("AdaptiveAvgPool2D", x)
	if outH <= 0 || outW <= 0 {
		panic(fmt.Errorf("%w: adaptive pool output %dx%d", ErrInvalidShape, outH, outW))
	}

	out := New(n, c, outH, outW)
	parallelFor(n, func(img int) {
		for ch := 0; ch < c; ch++ {
			src := x.data[(img*c+ch)*h*w:][:h*w]
			dst := out.data[(img*c+ch)*outH*outW:][:outH*outW]
			for i := 0; i < outH; i++ {
				y0, y1 := (i*h)/outH, ((i+1)*h+outH-1)/outH
				for j := 0; j < outW; j++ {
					x0, x1 := (j*w)/outW, ((j+1)*w+outW-1)/outW
					sum := 0.0
					for y := y0; y < y1; y++ {
						for xx := x0; xx < x1; xx++ {
							sum += src[y*w+xx]
						}
					}
					dst[i*outW+j] = sum / float64((y1-y0)*(x1-x0))
				}
			}
		}
	})
	return out
}
