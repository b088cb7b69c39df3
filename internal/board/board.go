package board

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Size is the side length of the grid.
const Size = 3

// Player identifies a side. The zero value doubles as the empty cell.
type Player string

const (
	None Player = ""
	X    Player = "X"
	O    Player = "O"
)

// Empty is the state of an unoccupied cell.
const Empty = None

// Opponent returns the other side; None stays None.
func (p Player) Opponent() Player {
	switch p {
	case X:
		return O
	case O:
		return X
	default:
		return None
	}
}

func (p Player) Valid() bool { return p == X || p == O }

// ParsePlayer accepts "x"/"o" in any case. Anything else yields None.
func ParsePlayer(s string) Player {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "X":
		return X
	case "O":
		return O
	default:
		return None
	}
}

var ErrInvalidKey = errors.New("invalid position key")

// Position addresses a cell by row and column.
type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (p Position) Valid() bool {
	return p.Row >= 0 && p.Row < Size && p.Col >= 0 && p.Col < Size
}

// Key is the canonical "row,col" form.
func (p Position) Key() string {
	return strconv.Itoa(p.Row) + "," + strconv.Itoa(p.Col)
}

// Index is the row-major linear index, or -1 when the position is off the grid.
func (p Position) Index() int {
	if !p.Valid() {
		return -1
	}
	return p.Row*Size + p.Col
}

func (p Position) String() string { return p.Key() }

// PositionAt converts a linear index back to a position. Out of range indexes
// produce an invalid position.
func PositionAt(i int) Position {
	if i < 0 || i >= Size*Size {
		return Position{Row: -1, Col: -1}
	}
	return Position{Row: i / Size, Col: i % Size}
}

// ParseKey is the inverse of Position.Key.
func ParseKey(key string) (Position, error) {
	r, c, ok := strings.Cut(strings.TrimSpace(key), ",")
	if !ok {
		return Position{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	row, err := strconv.Atoi(strings.TrimSpace(r))
	if err != nil {
		return Position{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	col, err := strconv.Atoi(strings.TrimSpace(c))
	if err != nil {
		return Position{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	p := Position{Row: row, Col: col}
	if !p.Valid() {
		return Position{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return p, nil
}

// Board is the 3x3 grid in row-major order. It is a value type: Place returns
// a modified copy and never touches its receiver.
type Board [Size * Size]Player

// CellAt is a tolerant read: invalid positions read as empty.
func CellAt(b Board, p Position) Player {
	if !p.Valid() {
		return Empty
	}
	return b[p.Index()]
}

// Place returns a copy of b with the cell at p set to v. Invalid positions
// return an unchanged copy.
func Place(b Board, p Position, v Player) Board {
	if !p.Valid() {
		return b
	}
	b[p.Index()] = v
	return b
}

func IsFull(b Board) bool {
	for _, c := range b {
		if c == Empty {
			return false
		}
	}
	return true
}

// Count returns how many cells hold v.
func Count(b Board, v Player) int {
	n := 0
	for _, c := range b {
		if c == v {
			n++
		}
	}
	return n
}

// Lines lists every winning line: rows, then columns, then diagonals.
var Lines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// Result describes a finished board. Winner is None for a draw.
type Result struct {
	Winner Player     `json:"winner"`
	Line   []Position `json:"line,omitempty"`
}

func (r *Result) Draw() bool { return r != nil && r.Winner == None }

// CheckWinner scans Lines in order and reports the first completed line.
func CheckWinner(b Board) (Player, []Position, bool) {
	for _, l := range Lines {
		v := b[l[0]]
		if v == Empty || b[l[1]] != v || b[l[2]] != v {
			continue
		}
		return v, []Position{PositionAt(l[0]), PositionAt(l[1]), PositionAt(l[2])}, true
	}
	return None, nil, false
}

// Terminal reports the outcome of a finished board, or nil while play can
// continue. A win takes priority over a full board.
func Terminal(b Board) *Result {
	if w, line, ok := CheckWinner(b); ok {
		return &Result{Winner: w, Line: line}
	}
	if IsFull(b) {
		return &Result{Winner: None}
	}
	return nil
}

// EmptyPositions lists unoccupied cells in index order.
func EmptyPositions(b Board) []Position {
	out := make([]Position, 0, len(b))
	for i, c := range b {
		if c == Empty {
			out = append(out, PositionAt(i))
		}
	}
	return out
}
