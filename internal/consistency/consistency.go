package consistency

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"refinebox/internal/episode"
	"refinebox/internal/services"
)

// ErrUnpairedEpisode marks episodes present on only one side of a comparison.
var ErrUnpairedEpisode = errors.New("unpaired episode")

// Pair links an episode's annotation file to its refined output.
type Pair struct {
	Episode        string
	AnnotationPath string
	OutputPath     string
}

// Report is the line-count comparison for one pair.
type Report struct {
	Episode         string
	AnnotationPath  string
	OutputPath      string
	AnnotationLines int
	OutputLines     int
	// Delta is AnnotationLines minus OutputLines.
	Delta int
	Err   error
}

// Consistent reports whether both files were counted and their line counts agree.
func (r Report) Consistent() bool {
	return r.Err == nil && r.Delta == 0
}

// UnpairedError lists the episodes that could not be matched.
type UnpairedError struct {
	// MissingOutputs are episodes with an annotation file but no output.
	MissingOutputs []string
	// OrphanOutputs are output files whose episode has no annotation file.
	OrphanOutputs []string
	// Ambiguous are episodes matched by more than one output file; they are
	// left unpaired.
	Ambiguous []string
}

func (e *UnpairedError) Error() string {
	parts := make([]string, 0, 3)
	if len(e.MissingOutputs) > 0 {
		parts = append(parts, "no output for "+strings.Join(e.MissingOutputs, ", "))
	}
	if len(e.OrphanOutputs) > 0 {
		parts = append(parts, "no annotation for "+strings.Join(e.OrphanOutputs, ", "))
	}
	if len(e.Ambiguous) > 0 {
		parts = append(parts, "several outputs for "+strings.Join(e.Ambiguous, ", "))
	}
	return "unpaired episodes: " + strings.Join(parts, "; ")
}

func (e *UnpairedError) Unwrap() error {
	return ErrUnpairedEpisode
}

// CountLines returns the number of lines in path. A final line without a
// trailing newline still counts.
func CountLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	reader := bufio.NewReaderSize(f, 64*1024)
	buf := make([]byte, 32*1024)
	count := 0
	var last byte
	seen := false
	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			count += bytes.Count(buf[:n], []byte{'\n'})
			last = buf[n-1]
			seen = true
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return 0, fmt.Errorf("count lines in %s: %w", path, readErr)
		}
	}
	if seen && last != '\n' {
		count++
	}
	return count, nil
}

// Compare counts the lines of every pair. Count failures are attached to the
// report rather than aborting the comparison.
func Compare(pairs []Pair) []Report {
	reports := make([]Report, 0, len(pairs))
	for _, pair := range pairs {
		reports = append(reports, compareOne(pair))
	}
	return reports
}

func compareOne(pair Pair) Report {
	report := Report{
		Episode:        pair.Episode,
		AnnotationPath: pair.AnnotationPath,
		OutputPath:     pair.OutputPath,
	}
	annotationLines, err := CountLines(pair.AnnotationPath)
	if err != nil {
		report.Err = fmt.Errorf("annotation: %w", err)
		return report
	}
	outputLines, err := CountLines(pair.OutputPath)
	if err != nil {
		report.Err = fmt.Errorf("output: %w", err)
		return report
	}
	report.AnnotationLines = annotationLines
	report.OutputLines = outputLines
	report.Delta = annotationLines - outputLines
	return report
}

// Mismatched returns the reports whose counts differ or could not be taken.
func Mismatched(reports []Report) []Report {
	var out []Report
	for _, report := range reports {
		if !report.Consistent() {
			out = append(out, report)
		}
	}
	return out
}

// OutputName returns the file name the pipeline writes for an episode.
func OutputName(method, episodeName string) string {
	return method + "_" + episodeName + ".csv"
}

// PairByEpisode matches the annotation file of every episode under
// annotationRoot with its output in outputDir. Episodes whose annotation file
// cannot be found are ignored. When any episode is unmatched on either side
// the matched pairs are still returned alongside an *UnpairedError. An episode
// matched by several outputs is reported as ambiguous rather than paired.
func PairByEpisode(annotationRoot, outputDir, method string, finder episode.Finder) ([]Pair, error) {
	episodes, err := episode.Discover(annotationRoot)
	if err != nil {
		return nil, err
	}
	annotations := make(map[string]string, len(episodes))
	names := make([]string, 0, len(episodes))
	for _, ep := range episodes {
		lookup, err := finder.AnnotationFile(ep)
		if err != nil {
			continue
		}
		annotations[ep.Name] = lookup.Path
		names = append(names, ep.Name)
	}

	outputs, err := outputsByEpisode(outputDir, method, annotations)
	if err != nil {
		return nil, err
	}

	var (
		pairs    []Pair
		unpaired UnpairedError
	)
	for _, name := range names {
		matched, ok := outputs[name]
		delete(outputs, name)
		switch {
		case !ok:
			unpaired.MissingOutputs = append(unpaired.MissingOutputs, name)
		case len(matched) > 1:
			unpaired.Ambiguous = append(unpaired.Ambiguous, name)
		default:
			pairs = append(pairs, Pair{Episode: name, AnnotationPath: annotations[name], OutputPath: matched[0]})
		}
	}
	for name := range outputs {
		unpaired.OrphanOutputs = append(unpaired.OrphanOutputs, name)
	}
	sort.Strings(unpaired.OrphanOutputs)

	if len(unpaired.MissingOutputs) > 0 || len(unpaired.OrphanOutputs) > 0 || len(unpaired.Ambiguous) > 0 {
		return pairs, &unpaired
	}
	return pairs, nil
}

// outputsByEpisode maps episode names to the output CSVs in dir, in directory
// order. With a method the
// file name must be <method>_<episode>.csv. Without one the episode is the
// longest suffix following an underscore that names a known episode, falling
// back to the text after the last underscore.
func outputsByEpisode(dir, method string, known map[string]string) (map[string][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "consistency", "read outputs", dir, err)
	}
	outputs := make(map[string][]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), ".csv")
		name, ok := episodeFromStem(stem, method, known)
		if !ok {
			continue
		}
		outputs[name] = append(outputs[name], filepath.Join(dir, entry.Name()))
	}
	return outputs, nil
}

func episodeFromStem(stem, method string, known map[string]string) (string, bool) {
	if method != "" {
		prefix := method + "_"
		if !strings.HasPrefix(stem, prefix) || len(stem) == len(prefix) {
			return "", false
		}
		return strings.TrimPrefix(stem, prefix), true
	}
	for i := 0; i < len(stem); i++ {
		if stem[i] != '_' {
			continue
		}
		if _, ok := known[stem[i+1:]]; ok {
			return stem[i+1:], true
		}
	}
	idx := strings.LastIndex(stem, "_")
	if idx < 0 || idx == len(stem)-1 {
		return "", false
	}
	return stem[idx+1:], true
}
