package components

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/paulmach/orb"

	"github.com/rendis/circletap/internal/tui/styles"
)

// Point is a colored marker.
type Point struct {
	Lat   float64
	Lng   float64
	Color string
}

// Overlay is a closed outline, drawn under the markers.
type Overlay struct {
	Ring  orb.Ring
	Color lipgloss.Color
}

// MapView renders colored markers and circle outlines using Braille characters.
type MapView struct {
	width    int
	height   int
	points   []Point
	overlays []Overlay
	selected int // index into points, -1 if none
	// Viewport bounds
	minLat, maxLat float64
	minLng, maxLng float64
	// Base bounds (for zoom reference)
	base      orb.Bound
	hasBase   bool
	zoomLevel float64 // 1.0 = no zoom, >1 = zoomed in
	panLat    float64
	panLng    float64
}

func NewMapView(width, height int) MapView {
	return MapView{
		width:     width,
		height:    height,
		selected:  -1,
		zoomLevel: 1.0,
	}
}

func (m *MapView) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m *MapView) SetOverlays(overlays []Overlay) {
	m.overlays = overlays
}

// SetPoints replaces the markers. Without explicit bounds the viewport fits
// the markers.
func (m *MapView) SetPoints(points []Point) {
	m.points = points
	if !m.hasBase {
		m.fitPoints()
	}
}

func (m *MapView) SetSelected(idx int) {
	m.selected = idx
}

// SetBounds fixes the base viewport, padded by 5%.
func (m *MapView) SetBounds(b orb.Bound) {
	m.base = b.Pad(math.Max(b.Max.Lat()-b.Min.Lat(), b.Max.Lon()-b.Min.Lon()) * 0.05)
	m.hasBase = true
	m.applyZoom()
}

func (m *MapView) ZoomIn() {
	m.zoomLevel = math.Min(m.zoomLevel*1.5, 20)
	m.applyZoom()
}

func (m *MapView) ZoomOut() {
	m.zoomLevel = math.Max(m.zoomLevel/1.5, 0.5)
	m.applyZoom()
}

func (m *MapView) ZoomReset() {
	m.zoomLevel = 1.0
	m.panLat = 0
	m.panLng = 0
	m.applyZoom()
}

func (m *MapView) Pan(dLat, dLng float64) {
	m.panLat += dLat * (m.base.Max.Lat() - m.base.Min.Lat()) * 0.1 / m.zoomLevel
	m.panLng += dLng * (m.base.Max.Lon() - m.base.Min.Lon()) * 0.1 / m.zoomLevel
	m.applyZoom()
}

func (m *MapView) applyZoom() {
	c := m.base.Center()
	halfLat := (m.base.Max.Lat() - m.base.Min.Lat()) / 2 / m.zoomLevel
	halfLng := (m.base.Max.Lon() - m.base.Min.Lon()) / 2 / m.zoomLevel
	m.minLat = c.Lat() + m.panLat - halfLat
	m.maxLat = c.Lat() + m.panLat + halfLat
	m.minLng = c.Lon() + m.panLng - halfLng
	m.maxLng = c.Lon() + m.panLng + halfLng
}

func (m *MapView) fitPoints() {
	if len(m.points) == 0 {
		return
	}
	b := orb.Bound{
		Min: orb.Point{m.points[0].Lng, m.points[0].Lat},
		Max: orb.Point{m.points[0].Lng, m.points[0].Lat},
	}
	for _, p := range m.points[1:] {
		b = b.Extend(orb.Point{p.Lng, p.Lat})
	}
	pad := math.Max(math.Max(b.Max.Lat()-b.Min.Lat(), b.Max.Lon()-b.Min.Lon())*0.05, 0.01)
	m.base = b.Pad(pad)
	m.applyZoom()
}

// Braille character encoding:
// Each braille char is a 2x4 dot grid.
// Dot positions:  0 3
//
//	1 4
//	2 5
//	6 7
//
// Unicode: 0x2800 + sum of raised dot bits
var brailleDots = [8]rune{0x01, 0x02, 0x04, 0x08, 0x10, 0x20, 0x40, 0x80}

var dotPositions = [8][2]int{
	{0, 0}, {1, 0}, {2, 0}, {0, 1},
	{1, 1}, {2, 1}, {3, 0}, {3, 1},
}

func (m MapView) View() string {
	if m.width <= 0 || m.height <= 0 {
		return ""
	}

	cols := m.width
	rows := m.height
	dotW := cols * 2
	dotH := rows * 4

	latRange := m.maxLat - m.minLat
	lngRange := m.maxLng - m.minLng
	if latRange == 0 || lngRange == 0 {
		return strings.Repeat(strings.Repeat(" ", cols)+"\n", rows)
	}

	// A braille dot is roughly square on screen, so correct only for the
	// shrinking longitude degree.
	cosLat := math.Cos((m.minLat + m.maxLat) / 2 * math.Pi / 180)
	geoAspect := lngRange * cosLat / latRange
	dotAspect := float64(dotW) / float64(dotH)

	effectiveW, effectiveH := dotW, dotH
	offsetX, offsetY := 0, 0
	if geoAspect < dotAspect {
		effectiveW = max(int(float64(dotH)*geoAspect), 4)
		offsetX = (dotW - effectiveW) / 2
	} else {
		effectiveH = max(int(float64(dotW)/geoAspect), 4)
		offsetY = (dotH - effectiveH) / 2
	}

	toDot := func(lat, lng float64) (int, int) {
		x := offsetX + int((lng-m.minLng)/lngRange*float64(effectiveW-1))
		y := offsetY + int((m.maxLat-lat)/latRange*float64(effectiveH-1))
		return x, y
	}

	// overlayGrid holds overlay index+1 per dot; 0 is empty.
	overlayGrid := make([][]int, dotH)
	pointGrid := make([][]bool, dotH)
	for i := range overlayGrid {
		overlayGrid[i] = make([]int, dotW)
		pointGrid[i] = make([]bool, dotW)
	}
	cellColor := make([][]string, rows)
	for i := range cellColor {
		cellColor[i] = make([]string, cols)
	}

	for oi, o := range m.overlays {
		for i := 0; i+1 < len(o.Ring); i++ {
			x0, y0 := toDot(o.Ring[i].Lat(), o.Ring[i].Lon())
			x1, y1 := toDot(o.Ring[i+1].Lat(), o.Ring[i+1].Lon())
			drawLine(overlayGrid, oi+1, x0, y0, x1, y1, dotW, dotH)
		}
	}

	for i, p := range m.points {
		x, y := toDot(p.Lat, p.Lng)
		if x < 0 || x >= dotW || y < 0 || y >= dotH {
			continue
		}
		pointGrid[y][x] = true
		color := p.Color
		if i == m.selected {
			color = string(styles.Primary)
		}
		// The selected marker wins its cell.
		if cellColor[y/4][x/2] != string(styles.Primary) {
			cellColor[y/4][x/2] = color
		}
	}

	var sb strings.Builder
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			var overlayVal rune = 0x2800
			var pointVal rune = 0x2800
			overlayIdx := 0

			for dot := 0; dot < 8; dot++ {
				dy := row*4 + dotPositions[dot][0]
				dx := col*2 + dotPositions[dot][1]
				if dy >= dotH || dx >= dotW {
					continue
				}
				if idx := overlayGrid[dy][dx]; idx > 0 {
					overlayVal |= brailleDots[dot]
					if overlayIdx == 0 {
						overlayIdx = idx
					}
				}
				if pointGrid[dy][dx] {
					pointVal |= brailleDots[dot]
				}
			}

			switch {
			case pointVal != 0x2800:
				sb.WriteString(styles.Marker(cellColor[row][col]).Render(string(pointVal)))
			case overlayVal != 0x2800:
				style := lipgloss.NewStyle().Foreground(m.overlays[overlayIdx-1].Color)
				sb.WriteString(style.Render(string(overlayVal)))
			default:
				sb.WriteRune(' ')
			}
		}
		if row < rows-1 {
			sb.WriteRune('\n')
		}
	}

	return sb.String()
}

// drawLine marks a line between two dots using Bresenham's algorithm.
// Dots already owned by an earlier overlay keep their owner.
func drawLine(grid [][]int, val, x0, y0, x1, y1, maxW, maxH int) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx := 1
	if x0 >= x1 {
		sx = -1
	}
	sy := 1
	if y0 >= y1 {
		sy = -1
	}
	err := dx + dy

	for {
		if x0 >= 0 && x0 < maxW && y0 >= 0 && y0 < maxH && grid[y0][x0] == 0 {
			grid[y0][x0] = val
		}
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
