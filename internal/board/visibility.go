package board

import "math/bits"

// PositionSet is a set of grid positions stored as a 9-bit mask.
type PositionSet uint16

func (s PositionSet) Has(p Position) bool {
	i := p.Index()
	return i >= 0 && s&(1<<uint(i)) != 0
}

// With returns s plus p. Invalid positions are ignored.
func (s PositionSet) With(p Position) PositionSet {
	i := p.Index()
	if i < 0 {
		return s
	}
	return s | 1<<uint(i)
}

func (s PositionSet) Len() int { return bits.OnesCount16(uint16(s)) }

// Positions lists members in index order.
func (s PositionSet) Positions() []Position {
	out := make([]Position, 0, s.Len())
	for i := 0; i < Size*Size; i++ {
		if s&(1<<uint(i)) != 0 {
			out = append(out, PositionAt(i))
		}
	}
	return out
}

// Keys lists members as "row,col" strings in index order.
func (s PositionSet) Keys() []string {
	ps := s.Positions()
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Key()
	}
	return out
}

// Project computes what viewer may see of b. Empty cells stay empty, the
// viewer's own marks and every revealed cell are shown as-is, and any other
// occupied cell reads as empty. A None viewer sees revealed cells only.
func Project(b Board, viewer Player, revealed PositionSet) Board {
	var out Board
	for i, c := range b {
		switch {
		case c == Empty:
		case viewer != None && c == viewer:
			out[i] = c
		case revealed.Has(PositionAt(i)):
			out[i] = c
		}
	}
	return out
}
