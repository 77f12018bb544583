package convert

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"refinebox/internal/services"
)

const (
	csvExt     = ".csv"
	datasetExt = ".kwcoco.json"
	viameExt   = ".viame.csv"
)

// Output is one pipeline output discovered for conversion.
type Output struct {
	CSVPath     string
	DatasetPath string
	// Episode is the file name suffix that follows <basename><method>_.
	Episode string
}

// DatasetPathFor returns the dataset file written beside csvPath.
func DatasetPathFor(csvPath string) string {
	return strings.TrimSuffix(csvPath, csvExt) + datasetExt
}

// FindOutputs lists the pipeline outputs in dir named <basename><method>*.csv,
// sorted by path.
func FindOutputs(dir, basename, method string) ([]Output, error) {
	prefix := basename + method
	matches, err := filepath.Glob(filepath.Join(dir, escapeGlob(prefix)+"*"+csvExt))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "convert", "glob outputs", dir, err)
	}
	sort.Strings(matches)
	outputs := make([]Output, 0, len(matches))
	for _, match := range matches {
		stem := strings.TrimSuffix(filepath.Base(match), csvExt)
		episode := strings.TrimPrefix(strings.TrimPrefix(stem, prefix), "_")
		outputs = append(outputs, Output{
			CSVPath:     match,
			DatasetPath: DatasetPathFor(match),
			Episode:     episode,
		})
	}
	return outputs, nil
}

// ConvertedOutput pairs a discovered output with its conversion result.
type ConvertedOutput struct {
	Output
	Stats Stats
	Err   error
}

// ConvertOutputs converts every output FindOutputs reports. A failing file is
// recorded on its entry and does not stop the others.
func ConvertOutputs(dir, basename, method string) ([]ConvertedOutput, error) {
	outputs, err := FindOutputs(dir, basename, method)
	if err != nil {
		return nil, err
	}
	results := make([]ConvertedOutput, 0, len(outputs))
	for _, out := range outputs {
		stats, err := Convert(out.CSVPath, out.DatasetPath)
		results = append(results, ConvertedOutput{Output: out, Stats: stats, Err: err})
	}
	return results, nil
}

// ArchiveTargets are the tracked files an output replaces in the archive.
type ArchiveTargets struct {
	Folder      string
	Source      string
	DatasetPath string
	CSVPath     string
}

// ResolveArchiveTargets finds the source annotation file in
// <archiveDir>/<episode> and derives the dataset and CSV names that sit
// beside it: <source stem>_<method>.kwcoco.json and <source stem>_<method>.viame.csv.
// Exactly one file in the folder may survive the exclude tokens.
func ResolveArchiveTargets(archiveDir, episode, method string, excludeTokens []string) (ArchiveTargets, error) {
	folder := filepath.Join(archiveDir, episode)
	entries, err := os.ReadDir(folder)
	if err != nil {
		return ArchiveTargets{}, services.Wrap(services.ErrNotFound, "convert", "archive folder", folder, err)
	}
	var sources []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || containsAny(name, excludeTokens) {
			continue
		}
		sources = append(sources, name)
	}
	if len(sources) != 1 {
		return ArchiveTargets{}, services.Wrap(
			services.ErrValidation,
			"convert",
			"archive source",
			fmt.Sprintf("expected one source annotation in %s, found %d %v", folder, len(sources), sources),
			nil,
		)
	}
	stem := sources[0]
	if idx := strings.Index(stem, "."); idx >= 0 {
		stem = stem[:idx]
	}
	return ArchiveTargets{
		Folder:      folder,
		Source:      filepath.Join(folder, sources[0]),
		DatasetPath: filepath.Join(folder, stem+"_"+method+datasetExt),
		CSVPath:     filepath.Join(folder, stem+"_"+method+viameExt),
	}, nil
}

// AnnotationDatasetPath returns the dataset path stored beside an episode's
// annotation file: <annotation>.viame.csv becomes <annotation>_<label>.kwcoco.json.
func AnnotationDatasetPath(annotationPath, label string) string {
	return annotationSibling(annotationPath, label) + datasetExt
}

// AnnotationCSVPath returns the refined CSV path stored beside an episode's
// annotation file: <annotation>.viame.csv becomes <annotation>_<label>.viame.csv.
func AnnotationCSVPath(annotationPath, label string) string {
	return annotationSibling(annotationPath, label) + viameExt
}

func annotationSibling(annotationPath, label string) string {
	base := strings.TrimSuffix(annotationPath, viameExt)
	if base == annotationPath {
		base = strings.TrimSuffix(annotationPath, csvExt)
	}
	return base + "_" + label
}

// MethodLabel shortens a pipeline method to the label used in file names by
// dropping the shared basename prefix.
func MethodLabel(method, basename string) string {
	label := strings.TrimPrefix(method, basename)
	if label == "" {
		return method
	}
	return label
}

func containsAny(name string, tokens []string) bool {
	for _, token := range tokens {
		if token != "" && strings.Contains(name, token) {
			return true
		}
	}
	return false
}

func escapeGlob(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
