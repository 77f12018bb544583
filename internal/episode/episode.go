package episode

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"refinebox/internal/config"
	"refinebox/internal/services"
)

// Episode identifies one recording session folder.
type Episode struct {
	Path string
	Name string
}

// New builds an Episode from a folder path.
func New(path string) Episode {
	cleaned := filepath.Clean(path)
	return Episode{Path: cleaned, Name: filepath.Base(cleaned)}
}

// Discover lists the immediate subfolders of root sorted by path. Hidden
// folders are ignored. An unreadable root is a configuration error.
func Discover(root string) ([]Episode, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, services.Wrap(services.ErrConfiguration, "discover", "", "input directory required", nil)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "discover", "read root", root, err)
	}

	episodes := make([]Episode, 0, len(entries))
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if !isDir(entry, path) {
			continue
		}
		episodes = append(episodes, New(path))
	}
	sort.Slice(episodes, func(i, j int) bool { return episodes[i].Path < episodes[j].Path })
	return episodes, nil
}

func isDir(entry fs.DirEntry, path string) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Window restricts episodes to the half-open range [index, index+1) when index
// is set, or returns all episodes otherwise.
func Window(episodes []Episode, index *int) ([]Episode, error) {
	if index == nil {
		return episodes, nil
	}
	if *index < 0 || *index >= len(episodes) {
		return nil, services.Wrap(
			services.ErrConfiguration,
			"discover",
			"folder index",
			fmt.Sprintf("index %d out of range for %d folders", *index, len(episodes)),
			nil,
		)
	}
	return episodes[*index : *index+1], nil
}

// Lookup describes how an episode's annotation file was resolved.
type Lookup struct {
	// Path is the selected annotation file. It is set even when the file is missing.
	Path string
	// Candidates lists the pattern matches that survived exclusion.
	Candidates []string
	// Fallback reports whether Path is the fixed fallback name because the
	// pattern produced zero or several candidates.
	Fallback bool
}

// ErrMissingAnnotation reports that neither the pattern nor the fallback produced a file.
var ErrMissingAnnotation = errors.New("annotation file missing")

// Finder applies the annotation naming convention.
type Finder struct {
	prefix   string
	suffix   string
	fallback string
	exclude  []string
}

// NewFinder builds a Finder from discovery settings.
func NewFinder(cfg config.Discovery) Finder {
	return Finder{
		prefix:   cfg.AnnotationPrefix,
		suffix:   cfg.AnnotationSuffix,
		fallback: cfg.FallbackName,
		exclude:  append([]string(nil), cfg.ExcludeTokens...),
	}
}

// Pattern returns the glob pattern used for ep.
func (f Finder) Pattern(ep Episode) string {
	return filepath.Join(escapeGlob(ep.Path), escapeGlob(f.prefix+ep.Name)+"*"+escapeGlob(f.suffix))
}

// AnnotationFile resolves the canonical annotation file for ep. When exactly
// one non-derived candidate matches the pattern it is returned; otherwise the
// fallback file is selected. A missing selection yields ErrMissingAnnotation
// alongside the Lookup so callers can report the path they tried.
func (f Finder) AnnotationFile(ep Episode) (Lookup, error) {
	matches, err := filepath.Glob(f.Pattern(ep))
	if err != nil {
		return Lookup{}, fmt.Errorf("glob annotations in %s: %w", ep.Path, err)
	}
	sort.Strings(matches)

	lookup := Lookup{}
	for _, match := range matches {
		if f.excluded(filepath.Base(match)) {
			continue
		}
		lookup.Candidates = append(lookup.Candidates, match)
	}

	if len(lookup.Candidates) == 1 {
		lookup.Path = lookup.Candidates[0]
	} else {
		lookup.Path = filepath.Join(ep.Path, f.fallback)
		lookup.Fallback = true
	}

	info, err := os.Stat(lookup.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return lookup, fmt.Errorf("%w: %s", ErrMissingAnnotation, lookup.Path)
	case err != nil:
		return lookup, fmt.Errorf("stat annotation file: %w", err)
	case info.IsDir():
		return lookup, fmt.Errorf("%w: %s is a directory", ErrMissingAnnotation, lookup.Path)
	}
	return lookup, nil
}

func (f Finder) excluded(name string) bool {
	for _, token := range f.exclude {
		if strings.Contains(name, token) {
			return true
		}
	}
	return false
}

func escapeGlob(value string) string {
	if !strings.ContainsAny(value, `*?[\`) {
		return value
	}
	var b strings.Builder
	for _, r := range value {
		switch r {
		case '*', '?', '[', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
