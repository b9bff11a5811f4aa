package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

var imageRegexp = regexp.MustCompile(`(?i)\.(jpe?g|png|bmp|webp)$`)

// DiscoverClasses returns the sorted names of the sub-directories of split.
// The position of a name is its label index.
func DiscoverClasses(split string) ([]string, error) {
	entries, err := os.ReadDir(split)
	if err != nil {
		return nil, fmt.Errorf("discover classes: %w", err)
	}
	classes := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			classes = append(classes, e.Name())
		}
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("discover classes: no class directories in %s", split)
	}
	sort.Strings(classes)
	return classes, nil
}

// DiscoverImages returns paths to image files beneath root in sorted order.
func DiscoverImages(root string) ([]string, error) {
	entries := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if imageRegexp.MatchString(d.Name()) {
			entries = append(entries, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover images: %w", err)
	}
	sort.Strings(entries)
	return entries, nil
}

// labelled pairs an image path with its class index.
type labelled struct {
	path  string
	label int
}

// discoverSplit lists every image of split/<class>/ for the given classes.
func discoverSplit(split string, classes []string) ([]labelled, error) {
	var out []labelled
	for label, class := range classes {
		paths, err := DiscoverImages(filepath.Join(split, class))
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			out = append(out, labelled{path: p, label: label})
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no images in " + split)
	}
	return out, nil
}
