package entity

import (
	"fmt"
	"math/rand"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
)

type TurnPolicy string

const (
	TurnFixed  TurnPolicy = "fixed"
	TurnRandom TurnPolicy = "random"
)

type SlotPolicy string

const (
	SlotFirstAvailable SlotPolicy = "first-available"
	SlotSecondFirst    SlotPolicy = "second-first"
)

// Policy - the rules for the opening turn and for the order free slots are handed out.
type Policy struct {
	Turn TurnPolicy
	Slot SlotPolicy

	coin func() bool
}

func NewPolicy(turn, slot string) (Policy, error) {
	policy := Policy{Turn: TurnPolicy(turn), Slot: SlotPolicy(slot)}

	switch policy.Turn {
	case TurnFixed, TurnRandom:
	default:
		return Policy{}, fmt.Errorf("%w: %q", apperror.ErrUnknownTurnPolicy, turn)
	}

	switch policy.Slot {
	case SlotFirstAvailable, SlotSecondFirst:
	default:
		return Policy{}, fmt.Errorf("%w: %q", apperror.ErrUnknownSlotPolicy, slot)
	}

	return policy, nil
}

// DefaultPolicy - X always opens, slots are filled X first.
func DefaultPolicy() Policy {
	return Policy{Turn: TurnFixed, Slot: SlotFirstAvailable}
}

// WithCoin - replaces the random source used by TurnRandom.
func (that Policy) WithCoin(coin func() bool) Policy {
	that.coin = coin
	return that
}

func (that Policy) FirstTurn() Mark {
	if that.Turn != TurnRandom {
		return MarkX
	}

	if that.flip() {
		return MarkO
	}

	return MarkX
}

// SlotOrder - the order in which a joiner is offered the slots.
func (that Policy) SlotOrder() [2]Mark {
	if that.Slot == SlotSecondFirst {
		return [2]Mark{MarkO, MarkX}
	}

	return [2]Mark{MarkX, MarkO}
}

func (that Policy) flip() bool {
	if that.coin != nil {
		return that.coin()
	}

	return rand.Intn(2) == 0 //nolint: gosec // it's ok
}
