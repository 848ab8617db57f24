package chesspresenter

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/chesslink/pkg/chessdto"
)

var (
	ranksTopDown = []nchess.Rank{nchess.Rank8, nchess.Rank7, nchess.Rank6, nchess.Rank5, nchess.Rank4, nchess.Rank3, nchess.Rank2, nchess.Rank1}
	filesLeftTo  = []nchess.File{nchess.FileA, nchess.FileB, nchess.FileC, nchess.FileD, nchess.FileE, nchess.FileF, nchess.FileG, nchess.FileH}
)

// parseBoard reads the server-asserted FEN. It is display only; nothing here
// feeds back into session state.
func parseBoard(fen string) (*nchess.Board, error) {
	opt, err := nchess.FEN(strings.TrimSpace(fen))
	if err != nil {
		return nil, fmt.Errorf("parse fen: %w", err)
	}
	return nchess.NewGame(opt).Position().Board(), nil
}

// orientation returns rank and file order as seen from perspective.
func orientation(perspective chessdto.Color) ([]nchess.Rank, []nchess.File) {
	ranks := append([]nchess.Rank(nil), ranksTopDown...)
	files := append([]nchess.File(nil), filesLeftTo...)
	if perspective == chessdto.Black {
		for i, j := 0, len(ranks)-1; i < j; i, j = i+1, j-1 {
			ranks[i], ranks[j] = ranks[j], ranks[i]
			files[i], files[j] = files[j], files[i]
		}
	}
	return ranks, files
}

// RenderASCII draws the position with the local player's side at the bottom.
func RenderASCII(fen string, perspective chessdto.Color) (string, error) {
	board, err := parseBoard(fen)
	if err != nil {
		return "", err
	}
	ranks, files := orientation(perspective)

	var b strings.Builder
	b.WriteString("  +-----------------+\n")
	for _, rank := range ranks {
		fmt.Fprintf(&b, "%s |", rank.String())
		for _, file := range files {
			b.WriteByte(' ')
			b.WriteString(pieceLetter(board.Piece(nchess.NewSquare(file, rank))))
		}
		b.WriteString(" |\n")
	}
	b.WriteString("  +-----------------+\n   ")
	for _, file := range files {
		b.WriteByte(' ')
		b.WriteString(file.String())
	}
	b.WriteByte('\n')
	return b.String(), nil
}

// pieceLetter uses FEN letters: upper case for white, "." for empty.
func pieceLetter(p nchess.Piece) string {
	if p == nchess.NoPiece {
		return "."
	}
	var s string
	switch p.Type() {
	case nchess.King:
		s = "k"
	case nchess.Queen:
		s = "q"
	case nchess.Rook:
		s = "r"
	case nchess.Bishop:
		s = "b"
	case nchess.Knight:
		s = "n"
	case nchess.Pawn:
		s = "p"
	default:
		return "?"
	}
	if p.Color() == nchess.White {
		return strings.ToUpper(s)
	}
	return s
}
