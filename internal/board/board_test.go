package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boardOf(rows ...string) Board {
	var b Board
	for r, row := range rows {
		for c, ch := range row {
			switch ch {
			case 'X':
				b[r*Size+c] = X
			case 'O':
				b[r*Size+c] = O
			}
		}
	}
	return b
}

func TestPositionEncodingsRoundTrip(t *testing.T) {
	for i := 0; i < Size*Size; i++ {
		p := PositionAt(i)
		require.True(t, p.Valid())
		assert.Equal(t, i, p.Index())

		got, err := ParseKey(p.Key())
		require.NoError(t, err)
		assert.Equal(t, p, got)
		assert.Equal(t, p.Key(), got.Key())
	}
}

func TestParseKeyRejectsMalformed(t *testing.T) {
	for _, k := range []string{"", "1", "1,", ",1", "a,b", "3,0", "0,3", "-1,0", "1;1"} {
		_, err := ParseKey(k)
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", k)
	}
}

func TestInvalidPositions(t *testing.T) {
	for _, p := range []Position{{-1, 0}, {0, -1}, {3, 0}, {0, 3}, {5, 5}} {
		assert.False(t, p.Valid(), "%v", p)
		assert.Equal(t, -1, p.Index())
	}
	assert.False(t, PositionAt(9).Valid())
	assert.False(t, PositionAt(-1).Valid())
}

func TestPlaceThenCellAt(t *testing.T) {
	var b Board
	for i := 0; i < Size*Size; i++ {
		p := PositionAt(i)
		next := Place(b, p, O)
		assert.Equal(t, O, CellAt(next, p))
		assert.Equal(t, Empty, CellAt(b, p), "Place must not mutate its input")
	}
}

func TestPlaceInvalidPositionIsNoop(t *testing.T) {
	b := boardOf("X..", ".O.", "...")
	got := Place(b, Position{Row: 3, Col: 1}, X)
	assert.Equal(t, b, got)
	assert.Equal(t, Empty, CellAt(b, Position{Row: -1, Col: 0}))
}

func TestCheckWinnerAllLines(t *testing.T) {
	for _, line := range Lines {
		var b Board
		for _, i := range line {
			b[i] = X
		}
		w, got, ok := CheckWinner(b)
		require.True(t, ok, "line %v", line)
		assert.Equal(t, X, w)
		require.Len(t, got, 3)
		for j, i := range line {
			assert.Equal(t, PositionAt(i), got[j])
		}
	}
}

func TestCheckWinnerNone(t *testing.T) {
	_, _, ok := CheckWinner(Board{})
	assert.False(t, ok)

	full := boardOf("XOX", "XOO", "OXX")
	_, _, ok = CheckWinner(full)
	assert.False(t, ok)
	assert.True(t, IsFull(full))
}

func TestTerminalDraw(t *testing.T) {
	b := boardOf("XOX", "OXO", "OXO")
	r := Terminal(b)
	require.NotNil(t, r)
	assert.True(t, r.Draw())
	assert.Equal(t, None, r.Winner)
	assert.Empty(t, r.Line)
}

func TestTerminalWinBeatsFull(t *testing.T) {
	b := boardOf("XXX", "OOX", "XOO")
	r := Terminal(b)
	require.NotNil(t, r)
	assert.Equal(t, X, r.Winner)
	assert.Equal(t, []Position{{0, 0}, {0, 1}, {0, 2}}, r.Line)
}

func TestTerminalInProgress(t *testing.T) {
	assert.Nil(t, Terminal(boardOf("X..", ".O.", "...")))
}

func TestOpponent(t *testing.T) {
	assert.Equal(t, O, X.Opponent())
	assert.Equal(t, X, O.Opponent())
	assert.Equal(t, None, None.Opponent())
	assert.Equal(t, X, ParsePlayer(" x "))
	assert.Equal(t, None, ParsePlayer("z"))
}

func TestEmptyPositions(t *testing.T) {
	b := boardOf("XO.", "...", "..X")
	assert.Len(t, EmptyPositions(b), 6)
	assert.Equal(t, Position{0, 2}, EmptyPositions(b)[0])
}
