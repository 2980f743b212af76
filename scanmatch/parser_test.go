package scanmatch

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseMapFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.json")
	if err := os.WriteFile(path, testMapJSON(t), 0644); err != nil {
		t.Fatalf("write map fixture: %v", err)
	}

	m, err := ParseMapFile(path)
	if err != nil {
		t.Fatalf("ParseMapFile() error = %v", err)
	}
	if m.MetaData.Version != 2 {
		t.Errorf("Version = %d, want 2", m.MetaData.Version)
	}
	if m.Size.X != 400 || m.Size.Y != 300 {
		t.Errorf("Size = %+v, want {400 300}", m.Size)
	}

	if _, err := ParseMapFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("ParseMapFile() of a missing file should fail")
	}
}

func TestValetudoMap_RobotPosition(t *testing.T) {
	m := testValetudoMap()

	x, y, angle, ok := m.RobotPosition()
	if !ok {
		t.Fatal("RobotPosition() found no robot")
	}
	if x != 162 || y != 187 {
		t.Errorf("position = (%d, %d), want (162, 187)", x, y)
	}
	if angle != 30 {
		t.Errorf("angle = %v, want 30", angle)
	}

	m.Entities = m.Entities[1:]
	if _, _, _, ok := m.RobotPosition(); ok {
		t.Error("RobotPosition() without a robot entity should report false")
	}
}

func TestValetudoMap_RobotPositionWithoutAngle(t *testing.T) {
	m := &ValetudoMap{Entities: []MapEntity{
		{Type: EntityRobotPosition, Points: []int{10}},
		{Type: EntityRobotPosition, Points: []int{10, 20}},
	}}
	x, _, angle, ok := m.RobotPosition()
	if !ok || angle != 0 || x != 10 {
		t.Errorf("RobotPosition() = x %d, angle %v, ok %v; want 10, 0, true", x, angle, ok)
	}
}

func TestValetudoMap_LayersOf(t *testing.T) {
	m := testValetudoMap()
	m.Layers = append(m.Layers,
		MapLayer{Type: LayerSegment, Pixels: []int{1, 1}},
		MapLayer{Type: LayerSegment, Pixels: []int{2, 2}},
	)

	segments := m.LayersOf(LayerSegment)
	if len(segments) != 2 {
		t.Fatalf("len(LayersOf(segment)) = %d, want 2", len(segments))
	}
	if segments[1].Pixels[0] != 2 {
		t.Error("LayersOf() should keep file order")
	}
	if got := len(m.LayersOf("carpet")); got != 0 {
		t.Errorf("len(LayersOf(carpet)) = %d, want 0", got)
	}
	if got := len(m.LayersOf(LayerWall)); got != 1 {
		t.Errorf("len(LayersOf(wall)) = %d, want 1", got)
	}
}

func TestMapLayer_Cells(t *testing.T) {
	layer := MapLayer{
		Pixels:           []int{1, 2, 3, 4, 99},
		CompressedPixels: []int{10, 5, 3, 20, 6, 1, 7},
	}

	want := [][2]int{{1, 2}, {3, 4}, {10, 5}, {11, 5}, {12, 5}, {20, 6}}
	got := layer.Cells()
	if len(got) != len(want) {
		t.Fatalf("Cells() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Cells()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMapLayer_CellsEmpty(t *testing.T) {
	if got := (MapLayer{}).Cells(); len(got) != 0 {
		t.Errorf("Cells() of an empty layer = %v", got)
	}
}
