// Package store persists engine state to Postgres or SQLite.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"duels/internal/game"

	"github.com/holiman/uint256"
)

const (
	metaNextID  = "next_id"
	metaCustody = "custody"
)

type turnRecord struct {
	CreatedAt  time.Time `json:"created_at"`
	Damage     uint8     `json:"damage"`
	Class      string    `json:"class"`
	Annotation string    `json:"annotation,omitempty"`
}

func encodeTurns(turns []game.Turn) ([]byte, error) {
	recs := make([]turnRecord, 0, len(turns))
	for _, t := range turns {
		recs = append(recs, turnRecord{
			CreatedAt:  t.CreatedAt.UTC(),
			Damage:     t.Damage,
			Class:      t.Class.String(),
			Annotation: t.Annotation,
		})
	}
	return json.Marshal(recs)
}

func decodeTurns(raw []byte) ([]game.Turn, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var recs []turnRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("decode turns: %w", err)
	}
	turns := make([]game.Turn, 0, len(recs))
	for _, r := range recs {
		class, err := game.ParseAttackClass(r.Class)
		if err != nil {
			return nil, fmt.Errorf("decode turns: %w", err)
		}
		turns = append(turns, game.Turn{
			CreatedAt:  r.CreatedAt,
			Damage:     r.Damage,
			Class:      class,
			Annotation: r.Annotation,
		})
	}
	return turns, nil
}

func parseAmount(s string) (uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("parse stored amount %q: %w", s, err)
	}
	return *v, nil
}

func callStatus(res game.CallResult) (string, string) {
	if res.Err != nil {
		return "failed", res.Err.Error()
	}
	return "completed", ""
}

func duelIDArg(id *uint64) any {
	if id == nil {
		return nil
	}
	return int64(*id)
}
