package convert

import (
	"fmt"
	"strconv"
	"strings"

	"refinebox/internal/annotations"
	"refinebox/internal/services"
)

const (
	colTrackID    = 0
	colImage      = 1
	colFrame      = 2
	colTLX        = 3
	colTLY        = 4
	colBRX        = 5
	colBRY        = 6
	colConfidence = 7
	colLength     = 8
	colFirstClass = 9
)

// Keypoint is a named point from a (kp) field.
type Keypoint struct {
	Name string     `json:"keypoint_category"`
	XY   [2]float64 `json:"xy"`
}

// Detection is one parsed VIAME CSV row.
type Detection struct {
	TrackID    int
	Image      string
	Frame      int
	Box        [4]float64
	Confidence float64
	Length     float64
	// Class is the highest scoring class label; empty when the row has none.
	Class      string
	ClassScore float64
	Polygons   [][]float64
	Keypoints  []Keypoint
	Attributes map[string]string
	Notes      []string
}

// ParseDetections decodes every data row of a VIAME table.
func ParseDetections(table *annotations.Table) ([]Detection, error) {
	detections := make([]Detection, 0, len(table.Rows))
	for i, row := range table.Rows {
		det, err := parseRow(row)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "convert", "parse", fmt.Sprintf("row %d", i+1), err)
		}
		detections = append(detections, det)
	}
	return detections, nil
}

func parseRow(row []string) (Detection, error) {
	cells := trimTrailingEmpty(row)
	if len(cells) <= colBRY {
		return Detection{}, fmt.Errorf("expected at least %d columns, got %d", colBRY+1, len(cells))
	}
	var det Detection
	var err error
	if det.TrackID, err = parseInt(cells[colTrackID], "track id"); err != nil {
		return Detection{}, err
	}
	det.Image = strings.TrimSpace(cells[colImage])
	if det.Image == "" {
		return Detection{}, fmt.Errorf("image name is empty")
	}
	if det.Frame, err = parseInt(cells[colFrame], "frame"); err != nil {
		return Detection{}, err
	}
	var corners [4]float64
	for i, col := range []int{colTLX, colTLY, colBRX, colBRY} {
		if corners[i], err = parseFloat(cells[col], "box"); err != nil {
			return Detection{}, err
		}
	}
	det.Box = [4]float64{corners[0], corners[1], corners[2] - corners[0], corners[3] - corners[1]}
	if det.Box[2] < 0 || det.Box[3] < 0 {
		return Detection{}, fmt.Errorf("box has negative extent: %v", corners)
	}
	det.Confidence = optionalFloat(cells, colConfidence, 1)
	det.Length = optionalFloat(cells, colLength, -1)

	idx := colFirstClass
	for idx < len(cells) && !strings.HasPrefix(strings.TrimSpace(cells[idx]), "(") {
		name := strings.TrimSpace(cells[idx])
		score := 1.0
		if idx+1 < len(cells) && !strings.HasPrefix(strings.TrimSpace(cells[idx+1]), "(") {
			if score, err = parseFloat(cells[idx+1], "class score"); err != nil {
				return Detection{}, err
			}
			idx++
		}
		idx++
		if name == "" {
			continue
		}
		if det.Class == "" || score > det.ClassScore {
			det.Class = name
			det.ClassScore = score
		}
	}
	for ; idx < len(cells); idx++ {
		if err := det.addField(strings.TrimSpace(cells[idx])); err != nil {
			return Detection{}, err
		}
	}
	return det, nil
}

func (d *Detection) addField(field string) error {
	switch {
	case field == "":
		return nil
	case strings.HasPrefix(field, "(poly)"):
		coords, err := parseCoords(strings.TrimPrefix(field, "(poly)"))
		if err != nil {
			return fmt.Errorf("polygon: %w", err)
		}
		if len(coords) >= 6 && len(coords)%2 == 0 {
			d.Polygons = append(d.Polygons, coords)
		}
	case strings.HasPrefix(field, "(kp)"):
		parts := strings.Fields(strings.TrimPrefix(field, "(kp)"))
		if len(parts) != 3 {
			return fmt.Errorf("keypoint %q: expected name x y", field)
		}
		x, err := parseFloat(parts[1], "keypoint x")
		if err != nil {
			return err
		}
		y, err := parseFloat(parts[2], "keypoint y")
		if err != nil {
			return err
		}
		d.Keypoints = append(d.Keypoints, Keypoint{Name: parts[0], XY: [2]float64{x, y}})
	case strings.HasPrefix(field, "(atr)"):
		parts := strings.Fields(strings.TrimPrefix(field, "(atr)"))
		if len(parts) == 0 {
			return nil
		}
		if d.Attributes == nil {
			d.Attributes = map[string]string{}
		}
		d.Attributes[parts[0]] = strings.Join(parts[1:], " ")
	case strings.HasPrefix(field, "(note)"):
		d.Notes = append(d.Notes, strings.TrimSpace(strings.TrimPrefix(field, "(note)")))
	}
	return nil
}

func parseCoords(value string) ([]float64, error) {
	fields := strings.Fields(value)
	coords := make([]float64, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, err
		}
		coords = append(coords, v)
	}
	return coords, nil
}

func trimTrailingEmpty(row []string) []string {
	end := len(row)
	for end > 0 && strings.TrimSpace(row[end-1]) == "" {
		end--
	}
	return row[:end]
}

func parseInt(value, name string) (int, error) {
	value = strings.TrimSpace(value)
	if v, err := strconv.Atoi(value); err == nil {
		return v, nil
	}
	// Spreadsheet round-trips turn integer ids into "3.0".
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("%s %q is not an integer", name, value)
	}
	return int(f), nil
}

func parseFloat(value, name string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not a number", name, value)
	}
	return v, nil
}

func optionalFloat(cells []string, idx int, fallback float64) float64 {
	if idx >= len(cells) {
		return fallback
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(cells[idx]), 64)
	if err != nil {
		return fallback
	}
	return v
}
