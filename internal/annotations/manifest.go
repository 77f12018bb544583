package annotations

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const imagesDir = "images"

// ManifestPaths resolves the unique image file names of the annotation file at
// annotationPath against baseFolder. With nestUnderImages set, names that do
// not already contain an images/ segment resolve under baseFolder/images.
func ManifestPaths(annotationPath, baseFolder string, nestUnderImages bool) ([]string, error) {
	table, err := ReadTable(annotationPath)
	if err != nil {
		return nil, err
	}
	names, err := table.UniqueFilenames()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", annotationPath, err)
	}
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = resolveImage(baseFolder, name, nestUnderImages)
	}
	return paths, nil
}

func resolveImage(baseFolder, name string, nestUnderImages bool) string {
	if filepath.IsAbs(name) {
		return name
	}
	if nestUnderImages && !hasImagesSegment(name) {
		return filepath.Join(baseFolder, imagesDir, name)
	}
	return filepath.Join(baseFolder, name)
}

func hasImagesSegment(name string) bool {
	for _, segment := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if segment == imagesDir {
			return true
		}
	}
	return false
}

// WriteManifest writes the image manifest for annotationPath to outputPath,
// one path per line with no trailing newline, replacing any previous content.
// The parent directory of outputPath is created when missing.
func WriteManifest(annotationPath, baseFolder, outputPath string, nestUnderImages bool) ([]string, error) {
	paths, err := ManifestPaths(annotationPath, baseFolder, nestUnderImages)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, fmt.Errorf("create manifest directory: %w", err)
	}
	if err := os.WriteFile(outputPath, []byte(strings.Join(paths, "\n")), 0o644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return paths, nil
}
