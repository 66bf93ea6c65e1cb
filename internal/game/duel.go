package game

import (
	"strings"
	"time"

	"github.com/holiman/uint256"
)

// AttackClass is one of the four cyclic combat styles.
type AttackClass uint8

const (
	Witty AttackClass = iota
	Brutal
	Strategic
	Mocking
)

var attackClassNames = [...]string{"Witty", "Brutal", "Strategic", "Mocking"}

// AttackClasses lists every class in cycle order.
var AttackClasses = []AttackClass{Witty, Brutal, Strategic, Mocking}

func (c AttackClass) String() string {
	if int(c) < len(attackClassNames) {
		return attackClassNames[c]
	}
	return "Unknown"
}

func (c AttackClass) Valid() bool {
	return int(c) < len(attackClassNames)
}

// ParseAttackClass accepts the class name in any case.
func ParseAttackClass(s string) (AttackClass, error) {
	s = strings.TrimSpace(s)
	for i, name := range attackClassNames {
		if strings.EqualFold(name, s) {
			return AttackClass(i), nil
		}
	}
	return 0, ErrUnknownAttackClass
}

// Winner is the outcome of a settled duel.
type Winner uint8

const (
	WinnerNone Winner = iota
	WinnerPlayerA
	WinnerPlayerB
	WinnerDraw
)

func (w Winner) String() string {
	switch w {
	case WinnerPlayerA:
		return "PlayerA"
	case WinnerPlayerB:
		return "PlayerB"
	case WinnerDraw:
		return "Draw"
	default:
		return ""
	}
}

// ParseWinner is the inverse of Winner.String; unknown input is WinnerNone.
func ParseWinner(s string) Winner {
	switch s {
	case "PlayerA":
		return WinnerPlayerA
	case "PlayerB":
		return WinnerPlayerB
	case "Draw":
		return WinnerDraw
	default:
		return WinnerNone
	}
}

type Turn struct {
	CreatedAt  time.Time
	Damage     uint8
	Class      AttackClass
	Annotation string
}

// Duel is the aggregate root for one match.
type Duel struct {
	ID        uint64
	CreatedAt time.Time
	StartedAt time.Time
	Stake     uint256.Int
	PlayerA   string
	PersonaA  Persona
	PlayerB   string
	PersonaB  Persona
	Turns     []Turn
	Winner    Winner
}

// State is derived from the aggregate; canceled duels are removed instead.
type State string

const (
	StatePending State = "pending"
	StateActive  State = "active"
	StateSettled State = "settled"
)

func (d *Duel) State() State {
	switch {
	case d.Winner != WinnerNone:
		return StateSettled
	case d.PlayerB == "":
		return StatePending
	default:
		return StateActive
	}
}

// PlayerToMove returns the account whose parity it is.
func (d *Duel) PlayerToMove() string {
	if len(d.Turns)%2 == 0 {
		return d.PlayerA
	}
	return d.PlayerB
}

// Waiting returns the side not due to move next.
func (d *Duel) Waiting() string {
	if len(d.Turns)%2 == 0 {
		return d.PlayerB
	}
	return d.PlayerA
}

// LastActivity is the later of the start time and the last turn.
func (d *Duel) LastActivity() time.Time {
	if n := len(d.Turns); n > 0 && d.Turns[n-1].CreatedAt.After(d.StartedAt) {
		return d.Turns[n-1].CreatedAt
	}
	return d.StartedAt
}

// Damage sums damage dealt by player A (even turns) and player B (odd turns).
func (d *Duel) Damage() (a, b uint32) {
	for i, t := range d.Turns {
		if i%2 == 0 {
			a += uint32(t.Damage)
		} else {
			b += uint32(t.Damage)
		}
	}
	return a, b
}

func (d *Duel) attacker(i int) (string, Persona) {
	if i%2 == 0 {
		return d.PlayerA, d.PersonaA
	}
	return d.PlayerB, d.PersonaB
}

func (d *Duel) clone() *Duel {
	c := *d
	c.Turns = append([]Turn(nil), d.Turns...)
	return &c
}
