package game

import "time"

type TurnView struct {
	CreatedAt  time.Time `json:"created_at"`
	Damage     uint8     `json:"damage"`
	Style      string    `json:"style"`
	Annotation string    `json:"annotation,omitempty"`
}

type DuelView struct {
	ID        uint64     `json:"id"`
	State     State      `json:"state"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Stake     string     `json:"stake"`
	PlayerA   string     `json:"player_a"`
	FigureA   Persona    `json:"figure_a"`
	PlayerB   string     `json:"player_b,omitempty"`
	FigureB   Persona    `json:"figure_b,omitempty"`
	Turns     []TurnView `json:"turns"`
	Winner    string     `json:"winner,omitempty"`
	DamageA   uint32     `json:"damage_a"`
	DamageB   uint32     `json:"damage_b"`
	NextMove  string     `json:"next_move,omitempty"`
}

// ViewOf renders a duel for API responses.
func ViewOf(d *Duel) DuelView {
	a, b := d.Damage()
	v := DuelView{
		ID:        d.ID,
		State:     d.State(),
		CreatedAt: d.CreatedAt,
		Stake:     d.Stake.Dec(),
		PlayerA:   d.PlayerA,
		FigureA:   d.PersonaA,
		PlayerB:   d.PlayerB,
		FigureB:   d.PersonaB,
		Turns:     make([]TurnView, 0, len(d.Turns)),
		Winner:    d.Winner.String(),
		DamageA:   a,
		DamageB:   b,
	}
	if !d.StartedAt.IsZero() {
		started := d.StartedAt
		v.StartedAt = &started
	}
	if v.State == StateActive {
		v.NextMove = d.PlayerToMove()
	}
	for _, t := range d.Turns {
		v.Turns = append(v.Turns, TurnView{
			CreatedAt:  t.CreatedAt,
			Damage:     t.Damage,
			Style:      t.Class.String(),
			Annotation: t.Annotation,
		})
	}
	return v
}

type LeaderboardRow struct {
	Rank      int64  `json:"rank"`
	AccountID string `json:"account_id"`
	Value     uint32 `json:"value"`
}

// AnnotationTask is a turn still waiting for its external annotation.
type AnnotationTask struct {
	DuelID        uint64  `json:"duel_id"`
	Turn          int     `json:"turn"`
	CurrentFigure Persona `json:"current_figure"`
	NextFigure    Persona `json:"next_figure"`
	Damage        uint8   `json:"damage"`
	Style         string  `json:"style"`
}

type BalanceView struct {
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
}

// CustodyReport compares believed custody with what the ledger can account for.
type CustodyReport struct {
	Believed   string `json:"believed"`
	Balances   string `json:"balances"`
	Locked     string `json:"locked"`
	Consistent bool   `json:"consistent"`
}
