package scanmatch

import (
	"encoding/json"
	"fmt"
	"os"
)

// Valetudo entity and layer types read by the localizer
const (
	EntityRobotPosition = "robot_position"

	LayerFloor   = "floor"
	LayerSegment = "segment"
	LayerWall    = "wall"
)

// ParseMapFile loads a map export from disk. Anything DecodeMapData accepts
// can be read: plain JSON, zlib-compressed JSON or a PNG with a zTXt chunk.
func ParseMapFile(path string) (*ValetudoMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return DecodeMapData(data)
}

// ParseMapJSON unmarshals uncompressed map JSON
func ParseMapJSON(data []byte) (*ValetudoMap, error) {
	var m ValetudoMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	if m.PixelSize <= 0 {
		return nil, fmt.Errorf("map pixelSize must be positive, got %d", m.PixelSize)
	}
	return &m, nil
}

// LayersOf returns the layers of one type in file order
func (m *ValetudoMap) LayersOf(kind string) []MapLayer {
	var out []MapLayer
	for _, l := range m.Layers {
		if l.Type == kind {
			out = append(out, l)
		}
	}
	return out
}

// RobotPosition returns the position (centimeters) and heading (degrees) of
// the first robot_position entity. A missing angle reads as 0.
func (m *ValetudoMap) RobotPosition() (x, y int, angleDeg float64, ok bool) {
	for _, e := range m.Entities {
		if e.Type != EntityRobotPosition || len(e.Points) < 2 {
			continue
		}
		if a, isNum := e.MetaData["angle"].(float64); isNum {
			angleDeg = a
		}
		return e.Points[0], e.Points[1], angleDeg, true
	}
	return 0, 0, 0, false
}

// Cells returns the pixel coordinates a layer covers. Pixels holds flat
// x,y pairs; CompressedPixels holds x,y,count triples, each a horizontal run
// starting at x. A trailing partial pair or triple is ignored.
func (l MapLayer) Cells() [][2]int {
	cells := make([][2]int, 0, len(l.Pixels)/2)
	for i := 0; i+1 < len(l.Pixels); i += 2 {
		cells = append(cells, [2]int{l.Pixels[i], l.Pixels[i+1]})
	}
	for i := 0; i+2 < len(l.CompressedPixels); i += 3 {
		x, y, run := l.CompressedPixels[i], l.CompressedPixels[i+1], l.CompressedPixels[i+2]
		for k := 0; k < run; k++ {
			cells = append(cells, [2]int{x + k, y})
		}
	}
	return cells
}
