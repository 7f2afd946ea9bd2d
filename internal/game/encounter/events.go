package encounter

import (
	"github.com/thinhdabezt/hexbound-vtt/internal/game/combat"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/combatant"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/dice"
)

// Event type tags as they appear on the wire.
const (
	EventCombatStarted      = "CombatStarted"
	EventCombatEnded        = "CombatEnded"
	EventTurnChanged        = "TurnChanged"
	EventTurnActionsUpdated = "TurnActionsUpdated"
	EventTokenStatsUpdated  = "TokenStatsUpdated"
	EventTokenDeath         = "TokenDeath"
	EventTokenRevive        = "TokenRevive"
	EventConditionAdded     = "ConditionAdded"
	EventConditionRemoved   = "ConditionRemoved"
	EventCombatLog          = "CombatLog"
	EventDiceRolled         = "DiceRolled"
	EventTokenMoved         = "TokenMoved"
	EventGameStateSync      = "GameStateSync"
	EventTokenStatsSync     = "TokenStatsSync"
	EventSessionSync        = "SessionSync"
	EventReceiveMessage     = "ReceiveMessage"
	EventError              = "Error"
)

// Event is one notification. Payload is one of the payload types below and
// is encoded as-is on the wire.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// CombatStartedPayload carries the new session and the initiative log.
type CombatStartedPayload struct {
	Session    *combat.Session          `json:"session"`
	Initiative []combat.InitiativeEntry `json:"initiative"`
}

// CombatEndedPayload carries the final session snapshot.
type CombatEndedPayload struct {
	Session *combat.Session `json:"session"`
	Reason  string          `json:"reason"`
}

// TurnChangedPayload describes the actor who now holds the turn.
type TurnChangedPayload struct {
	ActorID          string              `json:"actorId"`
	CurrentTurnIndex int                 `json:"currentTurnIndex"`
	RoundNumber      int                 `json:"roundNumber"`
	CanAct           bool                `json:"canAct"`
	Budget           combat.ActionBudget `json:"budget"`
}

type TurnActionsPayload struct {
	ActorID string              `json:"actorId"`
	Budget  combat.ActionBudget `json:"budget"`
}

type TokenDeathPayload struct {
	TokenID string               `json:"tokenId"`
	State   combatant.DeathState `json:"state"`
}

type TokenRevivePayload struct {
	TokenID string `json:"tokenId"`
}

type ConditionPayload struct {
	TokenID string `json:"tokenId"`
	Name    string `json:"name"`
	Glyph   string `json:"glyph"`
}

type CombatLogPayload struct {
	Text string `json:"text"`
}

type DiceRolledPayload struct {
	User   string          `json:"user"`
	Result dice.RollResult `json:"result"`
}

type TokenMovedPayload struct {
	TokenID string `json:"tokenId"`
	Q       int    `json:"q"`
	R       int    `json:"r"`
}

type MessagePayload struct {
	User    string `json:"user"`
	Message string `json:"message"`
}

// ErrorPayload is sent only to the caller whose command failed.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Command string `json:"command,omitempty"`
	Message string `json:"message"`
}

func logLine(text string) Event {
	return Event{Type: EventCombatLog, Payload: CombatLogPayload{Text: text}}
}

func statsUpdated(c combatant.Combatant) Event {
	return Event{Type: EventTokenStatsUpdated, Payload: c}
}

func actionsUpdated(actor string, b combat.ActionBudget) Event {
	return Event{Type: EventTurnActionsUpdated, Payload: TurnActionsPayload{ActorID: actor, Budget: b}}
}

// ErrorEvent builds the caller-only Error event for a failed command.
func ErrorEvent(command string, err error) Event {
	return Event{Type: EventError, Payload: ErrorPayload{Kind: Kind(err), Command: command, Message: err.Error()}}
}

// Notifier delivers events to every observer of an encounter.
type Notifier interface {
	Broadcast(encounterID string, events ...Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(encounterID string, events ...Event) error

// Broadcast calls f.
func (f NotifierFunc) Broadcast(encounterID string, events ...Event) error {
	return f(encounterID, events...)
}
