package scanmatch

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/svg"
)

// svgUnitsPerMeter scales map meters to canvas units (centimeters)
const svgUnitsPerMeter = 100.0

var unknownColor = color.RGBA{211, 211, 211, 255}

// canvasRenderer is implemented by the canvas svg renderer
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderMatchSVG writes the grid and overlay as SVG. Occupied cells are
// merged into row runs, the scan is drawn as endpoints plus a simplified
// contour.
func RenderMatchSVG(w io.Writer, grid *GridMap, overlay MatchOverlay) error {
	ext := grid.Extent()
	width := ext.HSideLength() * svgUnitsPerMeter
	height := ext.VSideLength() * svgUnitsPerMeter

	r := svg.New(w, width, height, nil)
	renderMatchToCanvas(r, grid, overlay, width, height)
	if err := r.Close(); err != nil {
		return fmt.Errorf("writing SVG: %w", err)
	}
	return nil
}

func renderMatchToCanvas(r canvasRenderer, grid *GridMap, overlay MatchOverlay, width, height float64) {
	// canvas is y-up; flip so the SVG matches RenderMatch
	toCanvas := func(p Point) (float64, float64) {
		return (p.X - grid.Origin.X) * svgUnitsPerMeter, height - (p.Y-grid.Origin.Y)*svgUnitsPerMeter
	}
	cell := grid.Resolution * svgUnitsPerMeter

	bg := canvas.DefaultStyle
	bg.Fill = canvas.Paint{Color: unknownColor}
	r.RenderPath(canvas.Rectangle(width, height), bg, canvas.Identity)

	free := canvas.DefaultStyle
	free.Fill = canvas.Paint{Color: canvas.White}
	free.Stroke = canvas.Paint{Color: canvas.Transparent}
	wall := canvas.DefaultStyle
	wall.Fill = canvas.Paint{Color: canvas.Black}
	wall.Stroke = canvas.Paint{Color: canvas.Transparent}

	for iy := 0; iy < grid.Height; iy++ {
		for ix := 0; ix < grid.Width; {
			class := classifyCell(grid.At(ix, iy))
			if class == cellUnknown {
				ix++
				continue
			}
			run := 1
			for ix+run < grid.Width && classifyCell(grid.At(ix+run, iy)) == class {
				run++
			}
			style := free
			if class == cellWall {
				style = wall
			}
			x, y := toCanvas(Point{X: grid.Origin.X + float64(ix)*grid.Resolution, Y: grid.Origin.Y + float64(iy+1)*grid.Resolution})
			r.RenderPath(canvas.Rectangle(float64(run)*cell, cell).Translate(x, y), style, canvas.Identity)
			ix += run
		}
	}

	robotColor := parseHexColor(overlay.Color)
	scan := overlay.scanWorld()
	if len(scan) > 1 {
		contour := canvas.DefaultStyle
		contour.Fill = canvas.Paint{Color: canvas.Transparent}
		contour.Stroke = canvas.Paint{Color: robotColor}
		contour.StrokeWidth = cell / 4

		path := &canvas.Path{}
		for i, p := range SimplifyContour(scan, grid.Resolution/2) {
			x, y := toCanvas(p)
			if i == 0 {
				path.MoveTo(x, y)
			} else {
				path.LineTo(x, y)
			}
		}
		r.RenderPath(path, contour, canvas.Identity)
	}

	hit := canvas.DefaultStyle
	hit.Fill = canvas.Paint{Color: robotColor}
	hit.Stroke = canvas.Paint{Color: canvas.Transparent}
	for _, p := range scan {
		x, y := toCanvas(p)
		r.RenderPath(canvas.Circle(cell/3).Translate(x, y), hit, canvas.Identity)
	}

	if overlay.Prior != nil {
		renderPoseMarker(r, toCanvas, *overlay.Prior, cell, canvas.Gray)
	}
	if overlay.Result != nil {
		renderPoseMarker(r, toCanvas, overlay.Result.Pose, cell, robotColor)
	}
}

type cellClass int

const (
	cellUnknown cellClass = iota
	cellFree
	cellWall
)

func classifyCell(v float64) cellClass {
	switch {
	case v >= OccupiedThreshold:
		return cellWall
	case v < UnknownOccupancy:
		return cellFree
	}
	return cellUnknown
}

func renderPoseMarker(r canvasRenderer, toCanvas func(Point) (float64, float64), pose RobotPose, cell float64, c color.RGBA) {
	x, y := toCanvas(Point{X: pose.X, Y: pose.Y})

	body := canvas.DefaultStyle
	body.Fill = canvas.Paint{Color: c}
	body.Stroke = canvas.Paint{Color: canvas.Black}
	body.StrokeWidth = cell / 8
	r.RenderPath(canvas.Circle(2*cell).Translate(x, y), body, canvas.Identity)

	dir := canvas.DefaultStyle
	dir.Fill = canvas.Paint{Color: canvas.Transparent}
	dir.Stroke = canvas.Paint{Color: c}
	dir.StrokeWidth = cell / 3
	hx, hy := toCanvas(Point{
		X: pose.X + 4*cell/svgUnitsPerMeter*math.Cos(pose.Theta),
		Y: pose.Y + 4*cell/svgUnitsPerMeter*math.Sin(pose.Theta),
	})
	path := &canvas.Path{}
	path.MoveTo(x, y)
	path.LineTo(hx, hy)
	r.RenderPath(path, dir, canvas.Identity)
}

// SimplifyContour reduces a scan polyline with Douglas-Peucker at the given
// tolerance (meters)
func SimplifyContour(points []Point, tolerance float64) []Point {
	if len(points) < 3 {
		return append([]Point(nil), points...)
	}
	ls := make(orb.LineString, len(points))
	for i, p := range points {
		ls[i] = orb.Point{p.X, p.Y}
	}
	simplified, ok := simplify.DouglasPeucker(tolerance).Simplify(ls).(orb.LineString)
	if !ok {
		return append([]Point(nil), points...)
	}
	out := make([]Point, len(simplified))
	for i, p := range simplified {
		out[i] = Point{X: p[0], Y: p[1]}
	}
	return out
}
