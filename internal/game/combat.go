package game

// advantage is the cap bonus for a strong matchup and the penalty for a weak one.
const advantage = 5

// StrongAgainst reports whether c beats other in the cycle
// Witty > Brutal > Strategic > Mocking > Witty.
func (c AttackClass) StrongAgainst(other AttackClass) bool {
	return c.Valid() && other.Valid() && (uint8(c)+1)%4 == uint8(other)
}

// WeakAgainst reports whether other beats c.
func (c AttackClass) WeakAgainst(other AttackClass) bool {
	return other.StrongAgainst(c)
}

// Resolve computes the damage for one turn. prev is nil on the opening turn.
// The result is always in [1, 15] for attributes in [1, 10].
func Resolve(attrs Attributes, class AttackClass, prev *AttackClass, roll byte) uint8 {
	limit := attrs.Power(class)
	if limit == 0 {
		limit = 1
	}
	if prev != nil && class.StrongAgainst(*prev) {
		limit += advantage
	}
	damage := roll%limit + 1
	if prev != nil && class.WeakAgainst(*prev) {
		if damage > advantage {
			damage -= advantage
		} else {
			damage = 1
		}
	}
	return damage
}
