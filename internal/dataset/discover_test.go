package dataset

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverImagesBasic(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "b.png"))
	mustWrite(t, filepath.Join(dir, "nested", "a.JPG"))
	mustWrite(t, filepath.Join(dir, "c.webp"))
	mustWrite(t, filepath.Join(dir, "ignore.txt"))

	images, err := DiscoverImages(dir)
	if err != nil {
		t.Fatalf("DiscoverImages error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "b.png"),
		filepath.Join(dir, "c.webp"),
		filepath.Join(dir, "nested", "a.JPG"),
	}
	if len(images) != len(want) {
		t.Fatalf("expected %d images, got %d", len(want), len(images))
	}
	for i, img := range want {
		if images[i] != img {
			t.Fatalf("image[%d]=%s want %s", i, images[i], img)
		}
	}
}

func TestDiscoverClassesSorted(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "zebra", "1.png"))
	mustWrite(t, filepath.Join(dir, "ant", "1.png"))
	mustWrite(t, filepath.Join(dir, "README"))

	classes, err := DiscoverClasses(dir)
	if err != nil {
		t.Fatalf("DiscoverClasses error: %v", err)
	}
	if len(classes) != 2 || classes[0] != "ant" || classes[1] != "zebra" {
		t.Fatalf("unexpected classes %v", classes)
	}
}

func TestDiscoverClassesEmpty(t *testing.T) {
	dir := t.TempDir()
	if _, err := DiscoverClasses(dir); err == nil {
		t.Fatalf("expected error for a directory without classes")
	}
	if _, err := DiscoverClasses(filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("expected error for a missing directory")
	}
}

func mustWrite(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
