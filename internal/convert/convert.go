package convert

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"

	"refinebox/internal/annotations"
	"refinebox/internal/fileutil"
	"refinebox/internal/services"
)

// Convert reads the VIAME CSV at csvPath and writes the dataset to jsonPath,
// replacing any previous file.
func Convert(csvPath, jsonPath string) (Stats, error) {
	table, err := annotations.ReadTable(csvPath)
	if err != nil {
		return Stats{}, err
	}
	detections, err := ParseDetections(table)
	if err != nil {
		return Stats{}, fmt.Errorf("%s: %w", csvPath, err)
	}
	ds := BuildDataset(detections)
	if err := fileutil.WriteAtomic(jsonPath, ds.Encode); err != nil {
		return Stats{}, fmt.Errorf("write dataset: %w", err)
	}
	return ds.Stats(), nil
}

// ReadStats counts the records of the dataset at path without decoding it.
func ReadStats(path string) (Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Stats{}, fmt.Errorf("read dataset: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return Stats{}, services.Wrap(services.ErrValidation, "convert", "read dataset", path+" is not valid JSON", nil)
	}
	counts := gjson.GetManyBytes(data, "images.#", "categories.#", "annotations.#")
	return Stats{
		Images:      int(counts[0].Int()),
		Categories:  int(counts[1].Int()),
		Annotations: int(counts[2].Int()),
	}, nil
}

// DatasetAnnotationCount returns the number of annotations in the dataset at path.
func DatasetAnnotationCount(path string) (int, error) {
	stats, err := ReadStats(path)
	if err != nil {
		return 0, err
	}
	return stats.Annotations, nil
}
