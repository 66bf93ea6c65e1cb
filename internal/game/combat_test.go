package game

import "testing"

func TestResolveScenarios(t *testing.T) {
	brutal := Brutal
	tests := []struct {
		name  string
		attrs Attributes
		class AttackClass
		prev  *AttackClass
		roll  byte
		want  uint8
	}{
		{name: "opening turn", attrs: Attributes{Wit: 10, Brutality: 10}, class: Witty, roll: 0, want: 1},
		{name: "strong widens cap", attrs: Attributes{Wit: 9}, class: Witty, prev: &brutal, roll: 14, want: 1},
		{name: "strong top of cap", attrs: Attributes{Wit: 9}, class: Witty, prev: &brutal, roll: 13, want: 14},
		{name: "weak floors at one", attrs: Attributes{Strategy: 10}, class: Strategic, prev: &brutal, roll: 3, want: 1},
		{name: "weak penalty", attrs: Attributes{Strategy: 10}, class: Strategic, prev: &brutal, roll: 9, want: 5},
		{name: "neutral", attrs: Attributes{Mockery: 6}, class: Mocking, prev: &brutal, roll: 200, want: 3},
	}
	for _, tc := range tests {
		got := Resolve(tc.attrs, tc.class, tc.prev, tc.roll)
		if got != tc.want {
			t.Fatalf("%s: got %d want %d", tc.name, got, tc.want)
		}
	}
}

func TestResolveDamageBounds(t *testing.T) {
	prevs := []*AttackClass{nil}
	for i := range AttackClasses {
		prevs = append(prevs, &AttackClasses[i])
	}
	for power := uint8(1); power <= 10; power++ {
		attrs := Attributes{Wit: power, Brutality: power, Strategy: power, Mockery: power}
		for _, class := range AttackClasses {
			for _, prev := range prevs {
				for roll := 0; roll < 256; roll++ {
					got := Resolve(attrs, class, prev, byte(roll))
					if got < 1 || got > 15 {
						t.Fatalf("power=%d class=%s roll=%d got %d", power, class, roll, got)
					}
					if again := Resolve(attrs, class, prev, byte(roll)); again != got {
						t.Fatalf("not reproducible: %d then %d", got, again)
					}
				}
			}
		}
	}
}

func TestAttackCycle(t *testing.T) {
	for _, a := range AttackClasses {
		for _, b := range AttackClasses {
			n := 0
			if a.StrongAgainst(b) {
				n++
			}
			if a.WeakAgainst(b) {
				n++
			}
			if n > 1 {
				t.Fatalf("%s vs %s is both strong and weak", a, b)
			}
		}
	}

	// Following the strong relation from Witty must visit all four classes once.
	seen := map[AttackClass]bool{}
	cur := Witty
	for range AttackClasses {
		seen[cur] = true
		var next AttackClass
		found := 0
		for _, c := range AttackClasses {
			if cur.StrongAgainst(c) {
				next = c
				found++
			}
		}
		if found != 1 {
			t.Fatalf("%s is strong against %d classes", cur, found)
		}
		cur = next
	}
	if cur != Witty || len(seen) != 4 {
		t.Fatalf("cycle did not close: end=%s seen=%d", cur, len(seen))
	}
	if !Witty.StrongAgainst(Brutal) || !Mocking.StrongAgainst(Witty) {
		t.Fatalf("unexpected cycle order")
	}
}
