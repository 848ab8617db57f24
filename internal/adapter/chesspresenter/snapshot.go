package chesspresenter

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/chesslink/pkg/chessdto"
)

const (
	defaultSquareSize = 48
	boardMargin       = 20
)

var (
	lightSquare     = color.RGBA{233, 207, 163, 255}
	darkSquare      = color.RGBA{187, 136, 96, 255}
	backgroundColor = color.RGBA{28, 31, 46, 255}
	coordinateColor = color.RGBA{204, 210, 236, 255}
	whitePieceFill  = "#f4f4f4"
	blackPieceFill  = "#262626"
)

// SnapshotWriter writes a PNG of every new position to Path, replacing the
// previous file.
type SnapshotWriter struct {
	Path       string
	SquareSize int
}

func (w *SnapshotWriter) Write(ctx context.Context, fen string, perspective chessdto.Color) error {
	if w == nil || strings.TrimSpace(w.Path) == "" {
		return nil
	}
	data, err := RenderPNG(ctx, fen, perspective, w.SquareSize)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(w.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("snapshot dir: %w", err)
		}
	}
	tmp := w.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, w.Path)
}

// RenderPNG rasterizes the server-asserted position. Squares and piece discs
// are drawn from SVG; piece letters and coordinates use a bitmap face.
func RenderPNG(ctx context.Context, fen string, perspective chessdto.Color, squareSize int) ([]byte, error) {
	if squareSize <= 0 {
		squareSize = defaultSquareSize
	}
	board, err := parseBoard(fen)
	if err != nil {
		return nil, err
	}
	ranks, files := orientation(perspective)
	total := squareSize*8 + boardMargin*2

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img := image.NewRGBA(image.Rect(0, 0, total, total))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	icon, err := oksvg.ReadIconStream(strings.NewReader(boardSVG(board, ranks, files, squareSize, total)))
	if err != nil {
		return nil, fmt.Errorf("parse board svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(total), float64(total))
	scanner := rasterx.NewScannerGV(total, total, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(total, total, scanner), 1.0)

	drawLetters(img, board, ranks, files, squareSize)
	drawCoordinates(img, ranks, files, squareSize)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func boardSVG(board *nchess.Board, ranks []nchess.Rank, files []nchess.File, squareSize, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" width="%d" height="%d">`, total, total, total, total)
	radius := float64(squareSize) * 0.36
	for row, rank := range ranks {
		for col, file := range files {
			sq := nchess.NewSquare(file, rank)
			x := boardMargin + col*squareSize
			y := boardMargin + row*squareSize
			fmt.Fprintf(&b, `<rect x="%d" y="%d" width="%d" height="%d" fill="%s"/>`, x, y, squareSize, squareSize, hex(squareColor(sq)))

			p := board.Piece(sq)
			if p == nchess.NoPiece {
				continue
			}
			fill := whitePieceFill
			if p.Color() == nchess.Black {
				fill = blackPieceFill
			}
			fmt.Fprintf(&b, `<circle cx="%d" cy="%d" r="%.1f" fill="%s" stroke="#000000" stroke-width="1.5"/>`,
				x+squareSize/2, y+squareSize/2, radius, fill)
		}
	}
	b.WriteString(`</svg>`)
	return b.String()
}

func drawLetters(img *image.RGBA, board *nchess.Board, ranks []nchess.Rank, files []nchess.File, squareSize int) {
	drawer := &font.Drawer{Dst: img, Face: basicfont.Face7x13}
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()
	for row, rank := range ranks {
		for col, file := range files {
			p := board.Piece(nchess.NewSquare(file, rank))
			if p == nchess.NoPiece {
				continue
			}
			drawer.Src = image.NewUniform(color.Black)
			if p.Color() == nchess.Black {
				drawer.Src = image.NewUniform(color.White)
			}
			cx := boardMargin + col*squareSize + squareSize/2
			cy := boardMargin + row*squareSize + squareSize/2
			drawCenteredText(drawer, strings.ToUpper(pieceLetter(p)), cx, cy+ascent/2-1)
		}
	}
}

func drawCoordinates(img *image.RGBA, ranks []nchess.Rank, files []nchess.File, squareSize int) {
	drawer := &font.Drawer{Dst: img, Face: basicfont.Face7x13, Src: image.NewUniform(coordinateColor)}
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()
	bottom := boardMargin + 8*squareSize
	for row, rank := range ranks {
		cy := boardMargin + row*squareSize + squareSize/2
		drawCenteredText(drawer, rank.String(), boardMargin/2, cy+ascent/2)
	}
	for col, file := range files {
		cx := boardMargin + col*squareSize + squareSize/2
		drawCenteredText(drawer, file.String(), cx, bottom+ascent+2)
	}
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	if text == "" {
		return
	}
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func squareColor(sq nchess.Square) color.RGBA {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}

func hex(c color.RGBA) string { return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B) }
