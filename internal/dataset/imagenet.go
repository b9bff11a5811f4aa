// Package dataset loads an ImageNet-style directory tree of labelled images
// into normalised tensors.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"k8s.io/klog/v2"

	"transfer-learning/internal/tensor"
)

var (
	imagenetMean = [3]float64{0.485, 0.456, 0.406}
	imagenetStd  = [3]float64{0.229, 0.224, 0.225}
)

const (
	trainSplit = "train"
	valSplit   = "val"
)

// Options configures LoadFromDir.
type Options struct {
	// ImageSize is the side of the square each image is cropped to.
	ImageSize  int
	NumWorkers int
}

// Dataset holds the decoded train and validation splits.
type Dataset struct {
	TrainImages *tensor.Tensor // [N 3 S S]
	TrainLabels *tensor.Tensor // [N]
	TestImages  *tensor.Tensor // [M 3 S S]
	TestLabels  *tensor.Tensor // [M]
	Labels      int
	Classes     []string
}

func (d *Dataset) String() string {
	return fmt.Sprintf("Dataset(train_images=%v, train_labels=%v, test_images=%v, test_labels=%v, labels=%d)",
		d.TrainImages.Shape(), d.TrainLabels.Shape(), d.TestImages.Shape(), d.TestLabels.Shape(), d.Labels)
}

// LoadFromDir reads dir/train/<class>/* and dir/val/<class>/*. Classes come
// from the sorted sub-directories of train; val must provide a directory for
// each of them.
func LoadFromDir(ctx context.Context, dir string, opts Options) (*Dataset, error) {
	if opts.ImageSize <= 0 {
		return nil, fmt.Errorf("dataset: image size must be > 0, got %d", opts.ImageSize)
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = runtime.NumCPU()
	}

	classes, err := DiscoverClasses(filepath.Join(dir, trainSplit))
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}

	d := &Dataset{Labels: len(classes), Classes: classes}
	d.TrainImages, d.TrainLabels, err = loadSplit(ctx, filepath.Join(dir, trainSplit), classes, opts)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	d.TestImages, d.TestLabels, err = loadSplit(ctx, filepath.Join(dir, valSplit), classes, opts)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	return d, nil
}

func loadSplit(ctx context.Context, split string, classes []string, opts Options) (images, labels *tensor.Tensor, err error) {
	items, err := discoverSplit(split, classes)
	if err != nil {
		return nil, nil, err
	}
	size := opts.ImageSize
	images = tensor.New(len(items), 3, size, size)
	labels = tensor.New(len(items))
	for i, it := range items {
		labels.Data()[i] = float64(it.label)
	}
	if err := decodeAll(ctx, items, images.Data(), size, opts.NumWorkers); err != nil {
		return nil, nil, err
	}
	klog.V(1).InfoS("loaded split", "split", split, "images", len(items), "classes", len(classes))
	return images, labels, nil
}

type decodeJob struct {
	index int
	path  string
}

// decodeAll decodes every item into its slot of dst. Each worker writes a
// disjoint range of dst, so the result is in item order regardless of
// scheduling.
func decodeAll(parent context.Context, items []labelled, dst []float64, size, workers int) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if workers > len(items) {
		workers = len(items)
	}
	per := 3 * size * size
	jobs := make(chan decodeJob, workers)
	errCh := make(chan error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-jobs:
					if !ok {
						return
					}
					if err := decodeInto(job.path, size, dst[job.index*per:(job.index+1)*per]); err != nil {
						errCh <- err
						cancel()
						return
					}
				}
			}
		}()
	}

produce:
	for i, it := range items {
		select {
		case <-ctx.Done():
			break produce
		case jobs <- decodeJob{index: i, path: it.path}:
		}
	}
	close(jobs)
	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return err
	}
	if err := parent.Err(); err != nil {
		return err
	}
	return nil
}

// LoadImage decodes path, resizes its shorter side to size, centre-crops it
// to size x size and returns ImageNet-normalised [3 size size] values.
func LoadImage(path string, size int) (*tensor.Tensor, error) {
	t := tensor.New(3, size, size)
	if err := decodeInto(path, size, t.Data()); err != nil {
		return nil, err
	}
	return t, nil
}

func decodeInto(path string, size int, dst []float64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return errors.New("decode " + path + ": empty image")
	}

	w, h := scaledSize(b.Dx(), b.Dy(), size)
	resized := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(resized, resized.Bounds(), src, b, draw.Src, nil)

	x0, y0 := (w-size)/2, (h-size)/2
	plane := size * size
	for y := 0; y < size; y++ {
		row := resized.Pix[(y0+y)*resized.Stride:]
		for x := 0; x < size; x++ {
			px := row[(x0+x)*4:]
			for c := 0; c < 3; c++ {
				v := float64(px[c]) / 255
				dst[c*plane+y*size+x] = (v - imagenetMean[c]) / imagenetStd[c]
			}
		}
	}
	return nil
}

// scaledSize returns the dimensions after scaling the shorter side to size.
func scaledSize(w, h, size int) (int, int) {
	if w <= h {
		return size, max(size, (h*size+w/2)/w)
	}
	return max(size, (w*size+h/2)/h), size
}
