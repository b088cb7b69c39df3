package render

import (
	"bytes"
	"embed"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/park285/kriegspiel-server/internal/board"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

//go:embed assets/*.svg
var markFiles embed.FS

type markCacheKey struct {
	mark board.Player
	size int
}

var (
	markCache   = map[markCacheKey]image.Image{}
	markCacheMu sync.RWMutex
)

func markImage(mark board.Player, size int) (image.Image, error) {
	key := markCacheKey{mark: mark, size: size}

	markCacheMu.RLock()
	if img, ok := markCache[key]; ok {
		markCacheMu.RUnlock()
		return img, nil
	}
	markCacheMu.RUnlock()

	name, err := markAssetName(mark)
	if err != nil {
		return nil, err
	}
	data, err := markFiles.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read mark asset %s: %w", name, err)
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(sanitizeSVG(data)))
	if err != nil {
		return nil, fmt.Errorf("parse mark svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	markCacheMu.Lock()
	markCache[key] = img
	markCacheMu.Unlock()
	return img, nil
}

func markAssetName(mark board.Player) (string, error) {
	switch mark {
	case board.X:
		return "assets/x.svg", nil
	case board.O:
		return "assets/o.svg", nil
	default:
		return "", fmt.Errorf("no asset for mark %q", mark)
	}
}

// sanitizeSVG drops the space after style property colons, which oksvg
// does not parse.
func sanitizeSVG(svg []byte) []byte {
	fixed := bytes.ReplaceAll(svg, []byte("fill: #"), []byte("fill:#"))
	fixed = bytes.ReplaceAll(fixed, []byte("stroke: #"), []byte("stroke:#"))
	return fixed
}
