package dataset

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadImageNormalises(t *testing.T) {
	path := filepath.Join(t.TempDir(), "red.png")
	mustPNG(t, path, 20, 12, color.RGBA{R: 255, A: 255})

	img, err := LoadImage(path, 8)
	if err != nil {
		t.Fatalf("LoadImage error: %v", err)
	}
	if got := img.Shape(); got[0] != 3 || got[1] != 8 || got[2] != 8 {
		t.Fatalf("expected [3 8 8], got %v", got)
	}
	want := [3]float64{
		(1 - imagenetMean[0]) / imagenetStd[0],
		(0 - imagenetMean[1]) / imagenetStd[1],
		(0 - imagenetMean[2]) / imagenetStd[2],
	}
	for c := 0; c < 3; c++ {
		for _, v := range []float64{img.At(c, 0, 0), img.At(c, 7, 7), img.At(c, 3, 4)} {
			if math.Abs(v-want[c]) > 1.0/255/imagenetStd[c] {
				t.Fatalf("channel %d: expected %f, got %f", c, want[c], v)
			}
		}
	}
}

func TestLoadImageRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.png")
	if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadImage(path, 8); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestScaledSize(t *testing.T) {
	cases := []struct{ w, h, size, wantW, wantH int }{
		{w: 100, h: 50, size: 10, wantW: 20, wantH: 10},
		{w: 30, h: 90, size: 10, wantW: 10, wantH: 30},
		{w: 7, h: 7, size: 10, wantW: 10, wantH: 10},
	}
	for _, tc := range cases {
		w, h := scaledSize(tc.w, tc.h, tc.size)
		if w != tc.wantW || h != tc.wantH {
			t.Fatalf("scaledSize(%d,%d,%d)=(%d,%d) want (%d,%d)", tc.w, tc.h, tc.size, w, h, tc.wantW, tc.wantH)
		}
	}
}

func TestLoadFromDir(t *testing.T) {
	dir := t.TempDir()
	mustPNG(t, filepath.Join(dir, "train", "dog", "1.png"), 10, 10, color.RGBA{B: 255, A: 255})
	mustPNG(t, filepath.Join(dir, "train", "cat", "1.png"), 10, 10, color.RGBA{R: 255, A: 255})
	mustPNG(t, filepath.Join(dir, "train", "cat", "2.png"), 12, 10, color.RGBA{R: 255, A: 255})
	mustPNG(t, filepath.Join(dir, "val", "cat", "1.png"), 10, 10, color.RGBA{R: 255, A: 255})
	mustPNG(t, filepath.Join(dir, "val", "dog", "1.png"), 10, 10, color.RGBA{B: 255, A: 255})

	ds, err := LoadFromDir(context.Background(), dir, Options{ImageSize: 6, NumWorkers: 2})
	if err != nil {
		t.Fatalf("LoadFromDir error: %v", err)
	}
	if ds.Labels != 2 || ds.Classes[0] != "cat" || ds.Classes[1] != "dog" {
		t.Fatalf("unexpected classes %v", ds.Classes)
	}
	want := "Dataset(train_images=[3 3 6 6], train_labels=[3], test_images=[2 3 6 6], test_labels=[2], labels=2)"
	if got := ds.String(); got != want {
		t.Fatalf("String()=%q want %q", got, want)
	}
	labels := ds.TrainLabels.Data()
	if labels[0] != 0 || labels[1] != 0 || labels[2] != 1 {
		t.Fatalf("unexpected train labels %v", labels)
	}
	// the dog image is blue, so its red channel sits at the normalised zero
	if v := ds.TrainImages.At(2, 0, 0, 0); v > 0 {
		t.Fatalf("dog image should have no red, got %f", v)
	}
	if v := ds.TrainImages.At(0, 0, 0, 0); v < 2 {
		t.Fatalf("cat image should be red, got %f", v)
	}
}

func TestLoadFromDirErrors(t *testing.T) {
	ctx := context.Background()
	opts := Options{ImageSize: 4, NumWorkers: 1}

	if _, err := LoadFromDir(ctx, filepath.Join(t.TempDir(), "missing"), opts); err == nil {
		t.Fatalf("expected error for missing directory")
	}

	noVal := t.TempDir()
	mustPNG(t, filepath.Join(noVal, "train", "a", "1.png"), 4, 4, color.RGBA{A: 255})
	if _, err := LoadFromDir(ctx, noVal, opts); err == nil {
		t.Fatalf("expected error for missing val split")
	}

	emptyVal := t.TempDir()
	mustPNG(t, filepath.Join(emptyVal, "train", "a", "1.png"), 4, 4, color.RGBA{A: 255})
	mustWrite(t, filepath.Join(emptyVal, "val", "a", "notes.txt"))
	if _, err := LoadFromDir(ctx, emptyVal, opts); err == nil {
		t.Fatalf("expected error for empty val split")
	}
}

func TestLoadFromDirCancelled(t *testing.T) {
	dir := t.TempDir()
	for _, split := range []string{"train", "val"} {
		mustPNG(t, filepath.Join(dir, split, "a", "1.png"), 4, 4, color.RGBA{A: 255})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := LoadFromDir(ctx, dir, Options{ImageSize: 4, NumWorkers: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func mustPNG(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}
