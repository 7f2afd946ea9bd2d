// Package combat implements the turn-order and action-economy state machine
// for one hex-grid encounter.
package combat

import (
	"errors"
	"fmt"

	"github.com/thinhdabezt/hexbound-vtt/internal/game/combatant"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/dice"
)

// DefaultSpeed is the movement granted to an actor whose stats are unknown.
const DefaultSpeed = combatant.DefaultSpeed

// ErrNoParticipants is returned by StartCombat for an empty participant list.
var ErrNoParticipants = errors.New("combat requires at least one participant")

// ErrInvariant wraps every failure reported by Session.Validate.
var ErrInvariant = errors.New("combat session invariant violated")

// SpeedLookup returns the movement an actor gets at the start of its turn.
// ok is false when the actor has no stats.
type SpeedLookup func(tokenID string) (speed int, ok bool)

// Session is the authoritative state of one encounter. It is not safe for
// concurrent use; callers serialize access per encounter.
//
// Invariant: while IsActive, 0 <= CurrentTurnIndex < len(TurnOrder) and RoundNumber >= 1.
type Session struct {
	TurnOrder        []string                `json:"turnOrder"`
	InitiativeRolls  map[string]int          `json:"initiativeRolls"`
	ActionBudgets    map[string]ActionBudget `json:"actionBudgets"`
	CurrentTurnIndex int                     `json:"currentTurnIndex"`
	RoundNumber      int                     `json:"roundNumber"`
	IsActive         bool                    `json:"isActive"`
}

// NewSession returns an inactive session with empty collections.
func NewSession() *Session {
	return &Session{
		TurnOrder:       []string{},
		InitiativeRolls: map[string]int{},
		ActionBudgets:   map[string]ActionBudget{},
		RoundNumber:     1,
	}
}

// StartCombat rolls initiative for participants and returns an active session
// along with the ordered initiative log. Duplicate token ids are collapsed,
// keeping the first occurrence.
//
// Precondition: src must not be nil.
// Postcondition: On success TurnOrder is a duplicate-free permutation of the
// participant ids ordered by (initiative desc, modifier desc, input order);
// every participant's budget has MovementRemaining == its speed.
func StartCombat(participants []combatant.Combatant, src dice.Source) (*Session, []InitiativeEntry, error) {
	seen := make(map[string]bool, len(participants))
	unique := make([]combatant.Combatant, 0, len(participants))
	for _, p := range participants {
		if seen[p.TokenID] {
			continue
		}
		seen[p.TokenID] = true
		unique = append(unique, p)
	}
	if len(unique) == 0 {
		return nil, nil, ErrNoParticipants
	}

	log := RollInitiative(unique, src)
	s := NewSession()
	for _, e := range log {
		s.TurnOrder = append(s.TurnOrder, e.TokenID)
		s.InitiativeRolls[e.TokenID] = e.Initiative
	}
	for _, p := range unique {
		s.ActionBudgets[p.TokenID] = NewActionBudget(p.Speed)
	}
	s.CurrentTurnIndex = 0
	s.RoundNumber = 1
	s.IsActive = true
	return s, log, nil
}

// CurrentActor returns the token whose turn it is.
//
// Postcondition: ok is false when the session is inactive or empty.
func (s *Session) CurrentActor() (string, bool) {
	if !s.IsActive || s.CurrentTurnIndex < 0 || s.CurrentTurnIndex >= len(s.TurnOrder) {
		return "", false
	}
	return s.TurnOrder[s.CurrentTurnIndex], true
}

// Budget returns a copy of tokenID's ledger.
func (s *Session) Budget(tokenID string) (ActionBudget, bool) {
	b, ok := s.ActionBudgets[tokenID]
	return b, ok
}

// Participates reports whether tokenID is in the turn order.
func (s *Session) Participates(tokenID string) bool {
	_, ok := s.InitiativeRolls[tokenID]
	return ok
}

// AdvanceTurn moves to the next actor, wrapping to the top of the order and
// bumping the round when it runs off the end. The new actor's budget is reset
// with movement from speed, or DefaultSpeed when speed has no entry.
//
// Postcondition: Returns false with no mutation if the session is inactive or empty.
func (s *Session) AdvanceTurn(speed SpeedLookup) bool {
	if !s.IsActive || len(s.TurnOrder) == 0 {
		return false
	}
	s.CurrentTurnIndex++
	if s.CurrentTurnIndex >= len(s.TurnOrder) {
		s.CurrentTurnIndex = 0
		s.RoundNumber++
	}
	actor := s.TurnOrder[s.CurrentTurnIndex]
	movement := DefaultSpeed
	if speed != nil {
		if v, ok := speed(actor); ok {
			movement = v
		}
	}
	s.ActionBudgets[actor] = NewActionBudget(movement)
	return true
}

func (s *Session) spendCurrent(k ActionKind) bool {
	actor, ok := s.CurrentActor()
	if !ok {
		return false
	}
	return s.spendFor(actor, k)
}

func (s *Session) spendFor(actor string, k ActionKind) bool {
	if !s.IsActive {
		return false
	}
	b, ok := s.ActionBudgets[actor]
	if !ok || !b.spend(k) {
		return false
	}
	s.ActionBudgets[actor] = b
	return true
}

// UseAction spends the current actor's action.
//
// Postcondition: Returns false with no mutation if there is no current actor
// or the action is already used.
func (s *Session) UseAction() bool { return s.spendCurrent(ActionStandard) }

// UseBonusAction spends the current actor's bonus action.
func (s *Session) UseBonusAction() bool { return s.spendCurrent(ActionBonus) }

// UseReaction spends actorID's reaction, which may happen outside its own turn.
//
// Postcondition: Returns false with no mutation if the session is inactive,
// actorID has no budget, or its reaction is already used.
func (s *Session) UseReaction(actorID string) bool {
	if _, ok := s.CurrentActor(); !ok {
		return false
	}
	return s.spendFor(actorID, ActionReaction)
}

// UseMovement deducts hexes from the current actor's remaining movement.
//
// Postcondition: Returns false with no mutation if there is no current actor,
// hexes < 0, or hexes exceeds MovementRemaining.
func (s *Session) UseMovement(hexes int) bool {
	actor, ok := s.CurrentActor()
	if !ok {
		return false
	}
	b := s.ActionBudgets[actor]
	if !b.move(hexes) {
		return false
	}
	s.ActionBudgets[actor] = b
	return true
}

// End deactivates the session. Turn order and rolls are kept for inspection.
//
// Postcondition: IsActive is false; returns whether the session was active.
func (s *Session) End() bool {
	was := s.IsActive
	s.IsActive = false
	return was
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	out := &Session{
		TurnOrder:        append([]string(nil), s.TurnOrder...),
		InitiativeRolls:  make(map[string]int, len(s.InitiativeRolls)),
		ActionBudgets:    make(map[string]ActionBudget, len(s.ActionBudgets)),
		CurrentTurnIndex: s.CurrentTurnIndex,
		RoundNumber:      s.RoundNumber,
		IsActive:         s.IsActive,
	}
	if out.TurnOrder == nil {
		out.TurnOrder = []string{}
	}
	for k, v := range s.InitiativeRolls {
		out.InitiativeRolls[k] = v
	}
	for k, v := range s.ActionBudgets {
		out.ActionBudgets[k] = v
	}
	return out
}

// Validate checks the structural invariants of an active session, as needed
// after restoring a snapshot. Inactive sessions always validate.
//
// Postcondition: Every returned error wraps ErrInvariant.
func (s *Session) Validate() error {
	if !s.IsActive {
		return nil
	}
	if len(s.TurnOrder) == 0 {
		return fmt.Errorf("%w: active session has empty turn order", ErrInvariant)
	}
	if s.CurrentTurnIndex < 0 || s.CurrentTurnIndex >= len(s.TurnOrder) {
		return fmt.Errorf("%w: turn index %d out of range [0,%d)", ErrInvariant, s.CurrentTurnIndex, len(s.TurnOrder))
	}
	if s.RoundNumber < 1 {
		return fmt.Errorf("%w: round number %d < 1", ErrInvariant, s.RoundNumber)
	}
	seen := make(map[string]bool, len(s.TurnOrder))
	for _, id := range s.TurnOrder {
		if seen[id] {
			return fmt.Errorf("%w: duplicate %q in turn order", ErrInvariant, id)
		}
		seen[id] = true
	}
	for id, b := range s.ActionBudgets {
		if b.MovementRemaining < 0 {
			return fmt.Errorf("%w: %q has negative movement %d", ErrInvariant, id, b.MovementRemaining)
		}
	}
	return nil
}
