package render

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/park285/kriegspiel-server/internal/board"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/basicfont"
)

func rgbaAt(img image.Image, pt image.Point) color.RGBA {
	return color.RGBAModel.Convert(img.At(pt.X, pt.Y)).(color.RGBA)
}

func TestRenderPNGDrawsMarks(t *testing.T) {
	var b board.Board
	b = board.Place(b, board.Position{Row: 0, Col: 0}, board.X)
	b = board.Place(b, board.Position{Row: 1, Col: 1}, board.O)

	raw, err := RenderPNG(context.Background(), b, Options{Header: "ABCD  X to move", Footer: "viewer X"})
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, cellSize*3+gridGap*2+sideMargin*2, img.Bounds().Dx())

	assert.Equal(t, cellColor, rgbaAt(img, CellCenter(board.Position{Row: 2, Col: 2})))
	assert.NotEqual(t, cellColor, rgbaAt(img, CellCenter(board.Position{Row: 0, Col: 0})), "X crosses the cell centre")

	o := CellCenter(board.Position{Row: 1, Col: 1})
	assert.Equal(t, cellColor, rgbaAt(img, o), "O is hollow")
	assert.NotEqual(t, cellColor, rgbaAt(img, o.Add(image.Pt(0, -26))), "O ring")
}

func TestRenderPNGHighlightsLineAndReveals(t *testing.T) {
	var b board.Board
	line := []board.Position{{Row: 2, Col: 0}, {Row: 2, Col: 1}, {Row: 2, Col: 2}}
	revealed := board.PositionSet(0).With(board.Position{Row: 0, Col: 2})

	raw, err := RenderPNG(context.Background(), b, Options{Line: line, Revealed: revealed})
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, lineCellColor, rgbaAt(img, CellCenter(board.Position{Row: 2, Col: 1})))
	assert.Equal(t, cellColor, rgbaAt(img, CellCenter(board.Position{Row: 1, Col: 1})))

	r := cellRect(board.Position{Row: 0, Col: 2}, image.Point{X: sideMargin, Y: headerHeight})
	assert.NotEqual(t, cellColor, rgbaAt(img, image.Pt(r.Max.X-12, r.Min.Y+12)))
}

func TestRenderPNGHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RenderPNG(ctx, board.Board{}, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMarkImageRejectsEmpty(t *testing.T) {
	_, err := markImage(board.None, 32)
	assert.Error(t, err)
}

func TestTruncateWithEllipsis(t *testing.T) {
	face := basicfont.Face7x13
	assert.Equal(t, "short", truncateWithEllipsis(face, "short", 200))
	got := truncateWithEllipsis(face, "a very long caption that will not fit", 70)
	assert.True(t, len(got) < len("a very long caption that will not fit"))
	assert.Contains(t, got, "...")
}
