package game

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"
)

const (
	MaxTurns = 10

	// FeeDivisor takes 10% of the pot, truncating.
	FeeDivisor = 10

	PendingCancelAfter = 24 * time.Hour
	ActiveCancelAfter  = 48 * time.Hour
)

// MinStake is 10^24 base units (one whole token at 24 decimals).
var MinStake = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(24))

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBelowMinimumStake   = errors.New("stake below minimum")
	ErrNotFound            = errors.New("duel not found")
	ErrAlreadyAccepted     = errors.New("duel already accepted")
	ErrSelfParticipation   = errors.New("account is already participating")
	ErrDuplicatePersona    = errors.New("persona already selected by opponent")
	ErrDuelComplete        = errors.New("duel is not in play")
	ErrNotYourTurn         = errors.New("not your turn")
	ErrNotParticipant      = errors.New("caller is not the duel creator")
	ErrNotOpponent         = errors.New("only the waiting opponent can cancel")
	ErrTooEarly            = errors.New("cancellation window has not opened")
	ErrNotAdmin            = errors.New("caller is not the administrator")
	ErrAlreadyAnnotated    = errors.New("turn already annotated")
	ErrTurnNotTaken        = errors.New("turn has not been taken")
	ErrDuplicateRequest    = errors.New("idempotency key already used")

	ErrUnknownPersona     = errors.New("unknown persona")
	ErrUnknownAttackClass = errors.New("unknown attack class")
	ErrInvalidAmount      = errors.New("amount must be a positive base-10 integer")
	ErrInvalidAccount     = errors.New("account id is required")
	ErrInvalidAnnotation  = errors.New("annotation reference is required")
)

// ParseAmount reads a base-10 token amount. Zero is rejected.
func ParseAmount(s string) (uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uint256.Int{}, ErrInvalidAmount
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if v.IsZero() {
		return uint256.Int{}, ErrInvalidAmount
	}
	return *v, nil
}

// PotSplit returns the winner payout and protocol fee for a decisive duel.
func PotSplit(stake uint256.Int) (payout, fee uint256.Int) {
	var pot uint256.Int
	pot.Add(&stake, &stake)
	fee.Div(&pot, uint256.NewInt(FeeDivisor))
	payout.Sub(&pot, &fee)
	return payout, fee
}

func normalizeAccount(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrInvalidAccount
	}
	return id, nil
}
