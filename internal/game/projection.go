package game

import (
	"cmp"
	"slices"
	"time"

	"github.com/holiman/uint256"
)

// topDuelWindow bounds how recently a duel must have ended to be featured.
const topDuelWindow = 24 * time.Hour

func (e *Engine) Duel(id uint64) (DuelView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := e.duels.peek(id)
	if d == nil {
		return DuelView{}, ErrNotFound
	}
	return ViewOf(d), nil
}

// ListDuels returns duels in the given state, newest first.
func (e *Engine) ListDuels(state State, count, offset int) []DuelView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.collect(func(d *Duel) bool { return d.State() == state }, count, offset)
}

// AccountDuels returns every duel the account plays in, newest first.
func (e *Engine) AccountDuels(account string) []DuelView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.collect(func(d *Duel) bool {
		return d.PlayerA == account || d.PlayerB == account
	}, 0, 0)
}

func (e *Engine) collect(keep func(*Duel) bool, count, offset int) []DuelView {
	var picked []*Duel
	for d := range e.duels.All() {
		if keep(d) {
			picked = append(picked, d)
		}
	}
	slices.SortFunc(picked, func(a, b *Duel) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	picked = page(picked, count, offset)
	out := make([]DuelView, 0, len(picked))
	for _, d := range picked {
		out = append(out, ViewOf(d))
	}
	return out
}

// LeaderboardByWins counts decisive wins per account.
func (e *Engine) LeaderboardByWins(count, offset int) []LeaderboardRow {
	e.mu.Lock()
	defer e.mu.Unlock()
	board := make(map[string]uint32)
	for d := range e.duels.All() {
		switch d.Winner {
		case WinnerPlayerA:
			board[d.PlayerA]++
		case WinnerPlayerB:
			board[d.PlayerB]++
		}
	}
	return rank(board, count, offset)
}

// LeaderboardByDamage sums damage dealt in finished duels.
func (e *Engine) LeaderboardByDamage(count, offset int) []LeaderboardRow {
	e.mu.Lock()
	defer e.mu.Unlock()
	board := make(map[string]uint32)
	for d := range e.duels.All() {
		if d.Winner == WinnerNone {
			continue
		}
		for i, t := range d.Turns {
			account, _ := d.attacker(i)
			board[account] += uint32(t.Damage)
		}
	}
	return rank(board, count, offset)
}

func rank(board map[string]uint32, count, offset int) []LeaderboardRow {
	rows := make([]LeaderboardRow, 0, len(board))
	for account, v := range board {
		rows = append(rows, LeaderboardRow{AccountID: account, Value: v})
	}
	slices.SortFunc(rows, func(a, b LeaderboardRow) int {
		if c := cmp.Compare(b.Value, a.Value); c != 0 {
			return c
		}
		return cmp.Compare(a.AccountID, b.AccountID)
	})
	for i := range rows {
		rows[i].Rank = int64(i + 1)
	}
	return page(rows, count, offset)
}

// TopDuel is the decisive duel with the largest stake that ended in the
// last day.
func (e *Engine) TopDuel() (DuelView, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	var best *Duel
	for d := range e.duels.All() {
		if d.Winner != WinnerPlayerA && d.Winner != WinnerPlayerB || len(d.Turns) != MaxTurns {
			continue
		}
		if now.Sub(d.Turns[len(d.Turns)-1].CreatedAt) > topDuelWindow {
			continue
		}
		if best == nil || d.Stake.Gt(&best.Stake) || d.Stake.Eq(&best.Stake) && d.ID > best.ID {
			best = d
		}
	}
	if best == nil {
		return DuelView{}, false
	}
	return ViewOf(best), true
}

// AnnotationQueue lists turns without an annotation, oldest duel first.
func (e *Engine) AnnotationQueue() []AnnotationTask {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []AnnotationTask
	for d := range e.duels.All() {
		for i, t := range d.Turns {
			if t.Annotation != "" {
				continue
			}
			_, current := d.attacker(i)
			_, next := d.attacker(i + 1)
			out = append(out, AnnotationTask{
				DuelID:        d.ID,
				Turn:          i,
				CurrentFigure: current,
				NextFigure:    next,
				Damage:        t.Damage,
				Style:         t.Class.String(),
			})
		}
	}
	slices.SortFunc(out, func(a, b AnnotationTask) int {
		if c := cmp.Compare(a.DuelID, b.DuelID); c != 0 {
			return c
		}
		return cmp.Compare(a.Turn, b.Turn)
	})
	return out
}

func (e *Engine) Balance(account string) uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Balance(account)
}

// Custody checks sum(balances) + live locked stakes against believed custody.
func (e *Engine) Custody() CustodyReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	balances := e.ledger.Total()
	var locked uint256.Int
	for d := range e.duels.All() {
		if d.Winner != WinnerNone {
			continue
		}
		locked.Add(&locked, &d.Stake)
		if d.PlayerB != "" {
			locked.Add(&locked, &d.Stake)
		}
	}
	believed := e.ledger.Custody()
	var sum uint256.Int
	sum.Add(&balances, &locked)
	return CustodyReport{
		Believed:   believed.Dec(),
		Balances:   balances.Dec(),
		Locked:     locked.Dec(),
		Consistent: sum.Eq(&believed),
	}
}

func page[T any](items []T, count, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if count > 0 && count < len(items) {
		items = items[:count]
	}
	return items
}
