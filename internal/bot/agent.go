package bot

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/kriegspiel-server/internal/board"
	"github.com/park285/kriegspiel-server/internal/game"
)

// HandlePrefix marks connection handles owned by a bot.
const HandlePrefix = "bot:"

var (
	ErrNoMoves           = errors.New("no candidate moves")
	ErrUnknownDifficulty = errors.New("unknown difficulty")
)

type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// ParseDifficulty accepts easy|medium|hard; empty means medium.
func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(s))); d {
	case Easy, Medium, Hard:
		return d, nil
	case "":
		return Medium, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDifficulty, s)
	}
}

// Pacing shapes the fake thinking delay.
type Pacing struct {
	Base          time.Duration
	Jitter        time.Duration
	Min           time.Duration
	Max           time.Duration
	UniformChance float64
}

// DefaultPacing: 70% of the time Base±Jitter, otherwise uniform in [Min, Max].
var DefaultPacing = Pacing{
	Base:          500 * time.Millisecond,
	Jitter:        200 * time.Millisecond,
	Min:           300 * time.Millisecond,
	Max:           1200 * time.Millisecond,
	UniformChance: 0.3,
}

func NewHandle() string { return HandlePrefix + uuid.NewString() }

func IsHandle(conn string) bool { return strings.HasPrefix(conn, HandlePrefix) }

// Agent plays from the same filtered view a human gets. Every difficulty
// currently picks uniformly among the cells it sees as empty.
type Agent struct {
	Difficulty Difficulty
	Pacing     Pacing

	mu  sync.Mutex
	rng *rand.Rand
}

func NewAgent(d Difficulty, r *rand.Rand) *Agent {
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Agent{Difficulty: d, Pacing: DefaultPacing, rng: r}
}

// ChooseMove picks a cell that is empty in v.VisibleBoard. A hidden enemy
// mark looks empty too, so the move may still collide.
func (a *Agent) ChooseMove(v game.ClientView) (board.Position, error) {
	candidates := board.EmptyPositions(v.VisibleBoard)
	if len(candidates) == 0 {
		return board.Position{}, ErrNoMoves
	}
	a.mu.Lock()
	i := a.rng.Intn(len(candidates))
	a.mu.Unlock()
	return candidates[i], nil
}

// ThinkTime draws a delay in [Pacing.Min, Pacing.Max].
func (a *Agent) ThinkTime() time.Duration {
	p := a.Pacing
	a.mu.Lock()
	defer a.mu.Unlock()

	var d time.Duration
	if a.rng.Float64() < p.UniformChance {
		d = p.Min + time.Duration(a.rng.Int63n(int64(p.Max-p.Min)+1))
	} else {
		d = p.Base - p.Jitter + time.Duration(a.rng.Int63n(int64(2*p.Jitter)+1))
	}
	if d < p.Min {
		d = p.Min
	}
	if d > p.Max {
		d = p.Max
	}
	return d
}
