package scanmatch

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// MatchOverlay is what gets drawn on top of an occupancy grid
type MatchOverlay struct {
	RobotID string
	Color   string     // hex, e.g. "#FF6B6B"
	Prior   *RobotPose // nil to skip
	Result  *MatchResult
	Scan    []Point // sensor frame; drawn at the corrected pose, or the prior without a result
}

// scanWorld returns the overlay scan transformed into map coordinates
func (o MatchOverlay) scanWorld() []Point {
	switch {
	case o.Result != nil:
		return o.Result.Pose.Transform().ApplyAll(o.Scan)
	case o.Prior != nil:
		return o.Prior.Transform().ApplyAll(o.Scan)
	}
	return nil
}

var (
	priorColor = color.RGBA{128, 128, 128, 255}
	labelColor = color.RGBA{0, 0, 0, 255}
)

// DefaultRenderScale is the number of image pixels per grid cell
const DefaultRenderScale = 4

// RenderMatch draws the grid in greyscale (free white, occupied black,
// unknown grey) with the prior pose, the corrected pose, the scan endpoints
// and a score label. Image row i shows grid row i.
func RenderMatch(grid *GridMap, overlay MatchOverlay, scale int) *image.RGBA {
	if scale <= 0 {
		scale = DefaultRenderScale
	}
	img := image.NewRGBA(image.Rect(0, 0, grid.Width*scale, grid.Height*scale))

	for iy := 0; iy < grid.Height; iy++ {
		for ix := 0; ix < grid.Width; ix++ {
			v := uint8(math.Round(255 * (1 - grid.At(ix, iy))))
			c := color.RGBA{v, v, v, 255}
			for py := iy * scale; py < (iy+1)*scale; py++ {
				for px := ix * scale; px < (ix+1)*scale; px++ {
					img.SetRGBA(px, py, c)
				}
			}
		}
	}

	toPixel := func(p Point) (int, int) {
		return int(math.Floor((p.X - grid.Origin.X) / grid.Resolution * float64(scale))),
			int(math.Floor((p.Y - grid.Origin.Y) / grid.Resolution * float64(scale)))
	}
	robotColor := parseHexColor(overlay.Color)

	for _, p := range overlay.scanWorld() {
		x, y := toPixel(p)
		fillSquare(img, x, y, max(1, scale/2), robotColor)
	}

	if overlay.Prior != nil {
		x, y := toPixel(Point{X: overlay.Prior.X, Y: overlay.Prior.Y})
		drawPoseMarker(img, x, y, 3*scale, overlay.Prior.Theta, priorColor)
	}
	if overlay.Result != nil {
		pose := overlay.Result.Pose
		x, y := toPixel(Point{X: pose.X, Y: pose.Y})
		drawPoseMarker(img, x, y, 3*scale, pose.Theta, robotColor)

		label := fmt.Sprintf("%s score=%.3f corr=%s", overlay.RobotID, overlay.Result.Score, overlay.Result.Correction)
		drawText(img, 4, 14, label, labelColor)
	}
	return img
}

// EncodePNG writes img as PNG
func EncodePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encoding PNG: %w", err)
	}
	return nil
}

func fillSquare(img *image.RGBA, cx, cy, half int, c color.RGBA) {
	b := img.Bounds()
	for y := cy - half; y <= cy+half; y++ {
		for x := cx - half; x <= cx+half; x++ {
			if image.Pt(x, y).In(b) {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

// drawPoseMarker draws a filled circle with a heading line
func drawPoseMarker(img *image.RGBA, cx, cy, radius int, theta float64, c color.RGBA) {
	b := img.Bounds()
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius && image.Pt(cx+dx, cy+dy).In(b) {
				img.SetRGBA(cx+dx, cy+dy, c)
			}
		}
	}
	heading := 2 * radius
	for i := 0; i <= heading; i++ {
		x := cx + int(math.Round(float64(i)*math.Cos(theta)))
		y := cy + int(math.Round(float64(i)*math.Sin(theta)))
		if image.Pt(x, y).In(b) {
			img.SetRGBA(x, y, c)
		}
	}
}

func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// parseHexColor parses "#RRGGBB", falling back to red
func parseHexColor(hex string) color.RGBA {
	fallback := color.RGBA{255, 0, 0, 255}
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	if len(hex) != 6 {
		return fallback
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return fallback
	}
	return color.RGBA{r, g, b, 255}
}
