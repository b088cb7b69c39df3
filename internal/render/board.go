package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"

	"github.com/park285/kriegspiel-server/internal/board"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

type Options struct {
	Header string
	Footer string
	// Line is drawn highlighted, usually the winning line.
	Line []board.Position
	// Revealed cells get a corner tick so a projected board shows what the
	// viewer learned from collisions.
	Revealed board.PositionSet
}

const (
	cellSize     = 120
	gridGap      = 6
	sideMargin   = 24
	headerHeight = 44
	footerHeight = 36
	panelRadius  = 10
	textPaddingX = 16
	markInset    = 14
)

var (
	backgroundColor = color.RGBA{28, 31, 46, 255}
	cellColor       = color.RGBA{233, 226, 208, 255}
	lineCellColor   = color.RGBA{255, 228, 120, 255}
	revealTickColor = color.NRGBA{R: 148, G: 207, B: 255, A: 230}
	panelColor      = color.NRGBA{R: 44, G: 48, B: 70, A: 250}
	textPrimary     = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
)

// RenderPNG draws b as a 3x3 grid with an optional header and footer caption.
func RenderPNG(ctx context.Context, b board.Board, opts Options) ([]byte, error) {
	gridSize := cellSize*board.Size + gridGap*(board.Size-1)
	width := gridSize + sideMargin*2
	height := headerHeight + gridSize + footerHeight + sideMargin
	origin := image.Point{X: sideMargin, Y: headerHeight}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	highlight := board.PositionSet(0)
	for _, p := range opts.Line {
		highlight = highlight.With(p)
	}

	for i := 0; i < board.Size*board.Size; i++ {
		p := board.PositionAt(i)
		rect := cellRect(p, origin)
		fill := cellColor
		if highlight.Has(p) {
			fill = lineCellColor
		}
		drawRoundedPanel(img, rect, panelRadius, fill)
		if opts.Revealed.Has(p) {
			tick := image.Rect(rect.Max.X-18, rect.Min.Y+6, rect.Max.X-6, rect.Min.Y+18)
			imagedraw.Draw(img, tick, image.NewUniform(revealTickColor), image.Point{}, imagedraw.Over)
		}
		mark := board.CellAt(b, p)
		if mark == board.Empty {
			continue
		}
		size := cellSize - markInset*2
		m, err := markImage(mark, size)
		if err != nil {
			return nil, err
		}
		at := rect.Min.Add(image.Pt(markInset, markInset))
		imagedraw.Draw(img, image.Rectangle{Min: at, Max: at.Add(image.Pt(size, size))}, m, image.Point{}, imagedraw.Over)
	}

	drawer := &font.Drawer{Dst: img, Face: basicfont.Face7x13}
	if header := strings.TrimSpace(opts.Header); header != "" {
		rect := image.Rect(sideMargin, 8, width-sideMargin, headerHeight-8)
		drawRoundedPanel(img, rect, panelRadius, panelColor)
		drawCenteredString(drawer, rect, truncateWithEllipsis(drawer.Face, header, rect.Dx()-textPaddingX*2), textPrimary)
	}
	if footer := strings.TrimSpace(opts.Footer); footer != "" {
		top := origin.Y + gridSize + 8
		rect := image.Rect(sideMargin, top, width-sideMargin, top+footerHeight-8)
		drawCenteredString(drawer, rect, truncateWithEllipsis(drawer.Face, footer, rect.Dx()-textPaddingX*2), textPrimary)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func cellRect(p board.Position, origin image.Point) image.Rectangle {
	x := origin.X + p.Col*(cellSize+gridGap)
	y := origin.Y + p.Row*(cellSize+gridGap)
	return image.Rect(x, y, x+cellSize, y+cellSize)
}

// CellCenter is the pixel at the middle of p in a rendered image.
func CellCenter(p board.Position) image.Point {
	return cellRect(p, image.Point{X: sideMargin, Y: headerHeight}).Min.Add(image.Pt(cellSize/2, cellSize/2))
}

func truncateWithEllipsis(face font.Face, text string, maxWidth int) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || maxWidth <= 0 || face == nil {
		return trimmed
	}
	drawer := font.Drawer{Face: face}
	if drawer.MeasureString(trimmed).Round() <= maxWidth {
		return trimmed
	}
	const ellipsis = "..."
	if drawer.MeasureString(ellipsis).Round() > maxWidth {
		return ""
	}
	runes := []rune(trimmed)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := string(runes) + ellipsis
		if drawer.MeasureString(candidate).Round() <= maxWidth {
			return candidate
		}
	}
	return ellipsis
}

func drawCenteredString(drawer *font.Drawer, rect image.Rectangle, text string, clr color.Color) {
	if drawer == nil || text == "" {
		return
	}
	metrics := drawer.Face.Metrics()
	width := drawer.MeasureString(text).Round()
	x := rect.Min.X + (rect.Dx()-width)/2
	if x < rect.Min.X {
		x = rect.Min.X
	}
	baseline := rect.Min.Y + (rect.Dy()+metrics.Ascent.Ceil()-metrics.Descent.Ceil())/2
	drawer.Src = image.NewUniform(clr)
	drawer.Dot = fixed.P(x, baseline)
	drawer.DrawString(text)
}

func drawRoundedPanel(img *image.RGBA, rect image.Rectangle, radius int, clr color.Color) {
	if img == nil || rect.Empty() {
		return
	}
	maxRadius := rect.Dx() / 2
	if r := rect.Dy() / 2; r < maxRadius {
		maxRadius = r
	}
	if radius > maxRadius {
		radius = maxRadius
	}
	fill := image.NewUniform(clr)
	if radius <= 0 {
		imagedraw.Draw(img, rect, fill, image.Point{}, imagedraw.Over)
		return
	}

	imagedraw.Draw(img, image.Rect(rect.Min.X+radius, rect.Min.Y, rect.Max.X-radius, rect.Max.Y), fill, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, image.Rect(rect.Min.X, rect.Min.Y+radius, rect.Min.X+radius, rect.Max.Y-radius), fill, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, image.Rect(rect.Max.X-radius, rect.Min.Y+radius, rect.Max.X, rect.Max.Y-radius), fill, image.Point{}, imagedraw.Over)

	corners := []image.Point{
		{rect.Min.X + radius, rect.Min.Y + radius},
		{rect.Max.X - radius - 1, rect.Min.Y + radius},
		{rect.Min.X + radius, rect.Max.Y - radius - 1},
		{rect.Max.X - radius - 1, rect.Max.Y - radius - 1},
	}
	for _, c := range corners {
		drawQuarterDisc(img, c, radius, rect, fill)
	}
}

// drawQuarterDisc fills the disc around center, clipped to the outer panel.
func drawQuarterDisc(img *image.RGBA, center image.Point, radius int, clip image.Rectangle, fill *image.Uniform) {
	r2 := radius * radius
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y > r2 {
				continue
			}
			pt := image.Pt(center.X+x, center.Y+y)
			if !pt.In(clip) {
				continue
			}
			imagedraw.Draw(img, image.Rect(pt.X, pt.Y, pt.X+1, pt.Y+1), fill, image.Point{}, imagedraw.Over)
		}
	}
}
