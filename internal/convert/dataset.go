package convert

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

const unknownCategory = "unknown"

// Category is a dataset category record.
type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Image is a dataset image record.
type Image struct {
	ID         int    `json:"id"`
	FileName   string `json:"file_name"`
	FrameIndex int    `json:"frame_index"`
}

// Annotation is a dataset annotation record.
type Annotation struct {
	ID           int               `json:"id"`
	ImageID      int               `json:"image_id"`
	CategoryID   int               `json:"category_id"`
	BBox         [4]float64        `json:"bbox"`
	Score        float64           `json:"score"`
	TrackID      int               `json:"track_id"`
	Length       *float64          `json:"length,omitempty"`
	Segmentation [][]float64       `json:"segmentation,omitempty"`
	Keypoints    []Keypoint        `json:"keypoints,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	Notes        []string          `json:"notes,omitempty"`
}

// Dataset is the in-memory form of a converted file.
type Dataset struct {
	Categories  []Category
	Images      []Image
	Annotations []Annotation
}

// Stats summarizes a dataset.
type Stats struct {
	Images      int
	Categories  int
	Annotations int
}

// Stats returns the record counts of d.
func (d *Dataset) Stats() Stats {
	return Stats{Images: len(d.Images), Categories: len(d.Categories), Annotations: len(d.Annotations)}
}

// BuildDataset assembles detections into a dataset. Images receive ids in
// first-appearance order and keep the frame of their first row; categories
// receive ids in order of first use.
func BuildDataset(detections []Detection) *Dataset {
	ds := &Dataset{}
	imageIDs := map[string]int{}
	categoryIDs := map[string]int{}
	for _, det := range detections {
		imageID, ok := imageIDs[det.Image]
		if !ok {
			imageID = len(ds.Images) + 1
			imageIDs[det.Image] = imageID
			ds.Images = append(ds.Images, Image{ID: imageID, FileName: det.Image, FrameIndex: det.Frame})
		}

		class := det.Class
		if class == "" {
			class = unknownCategory
		}
		categoryID, ok := categoryIDs[class]
		if !ok {
			categoryID = len(ds.Categories) + 1
			categoryIDs[class] = categoryID
			ds.Categories = append(ds.Categories, Category{ID: categoryID, Name: class})
		}

		ann := Annotation{
			ID:           len(ds.Annotations) + 1,
			ImageID:      imageID,
			CategoryID:   categoryID,
			BBox:         det.Box,
			Score:        det.Confidence,
			TrackID:      det.TrackID,
			Segmentation: det.Polygons,
			Keypoints:    det.Keypoints,
			Attributes:   det.Attributes,
			Notes:        det.Notes,
		}
		if det.Length > 0 {
			length := det.Length
			ann.Length = &length
		}
		ds.Annotations = append(ds.Annotations, ann)
	}
	return ds
}

// Encode writes d with one record per line inside each section.
func (d *Dataset) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	sections := []struct {
		name    string
		records []any
	}{
		{"info", nil},
		{"licenses", nil},
		{"categories", toAny(d.Categories)},
		{"videos", nil},
		{"images", toAny(d.Images)},
		{"annotations", toAny(d.Annotations)},
	}
	if _, err := bw.WriteString("{\n"); err != nil {
		return err
	}
	for i, section := range sections {
		if err := writeSection(bw, section.name, section.records, i == len(sections)-1); err != nil {
			return fmt.Errorf("write %s: %w", section.name, err)
		}
	}
	if _, err := bw.WriteString("}\n"); err != nil {
		return err
	}
	return bw.Flush()
}

func writeSection(w *bufio.Writer, name string, records []any, last bool) error {
	key, err := json.Marshal(name)
	if err != nil {
		return err
	}
	closing := "],\n"
	if last {
		closing = "]\n"
	}
	if len(records) == 0 {
		_, err := w.WriteString(string(key) + ": [" + closing)
		return err
	}
	if _, err := w.WriteString(string(key) + ": [\n"); err != nil {
		return err
	}
	for i, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if _, err := w.WriteString("    "); err != nil {
			return err
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
		sep := ",\n"
		if i == len(records)-1 {
			sep = "\n"
		}
		if _, err := w.WriteString(sep); err != nil {
			return err
		}
	}
	_, err = w.WriteString(closing)
	return err
}

func toAny[T any](records []T) []any {
	out := make([]any, len(records))
	for i := range records {
		out[i] = records[i]
	}
	return out
}
