package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/thinhdabezt/hexbound-vtt/internal/game/combat"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/combatant"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/encounter"
)

// commandTimeout bounds one command including all of its store calls.
const commandTimeout = 10 * time.Second

// inbound is a command frame sent by a client.
type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// commandArgs is the union of every command's payload fields.
type commandArgs struct {
	ParticipantIDs []string             `json:"participantIds"`
	ActorID        string               `json:"actorId"`
	TargetID       string               `json:"targetId"`
	TokenID        string               `json:"tokenId"`
	Name           string               `json:"name"`
	Hexes          int                  `json:"hexes"`
	AttackRoll     int                  `json:"attackRoll"`
	Amount         int                  `json:"amount"`
	Q              int                  `json:"q"`
	R              int                  `json:"r"`
	Terrain        []combat.Hex         `json:"terrain"`
	Formula        string               `json:"formula"`
	Message        string               `json:"message"`
	Token          *combatant.Combatant `json:"token"`
}

// Command names accepted on the socket.
const (
	cmdStartCombat         = "StartCombat"
	cmdEndTurn             = "EndTurn"
	cmdEndCombat           = "EndCombat"
	cmdUseAction           = "UseAction"
	cmdUseBonusAction      = "UseBonusAction"
	cmdUseReaction         = "UseReaction"
	cmdUseMovement         = "UseMovement"
	cmdAttack              = "Attack"
	cmdDealDamage          = "DealDamage"
	cmdHealToken           = "HealToken"
	cmdAddCondition        = "AddCondition"
	cmdRemoveCondition     = "RemoveCondition"
	cmdMoveToken           = "MoveToken"
	cmdStandUp             = "StandUp"
	cmdSetDifficultTerrain = "SetDifficultTerrain"
	cmdUpsertToken         = "UpsertToken"
	cmdRollDice            = "RollDice"
	cmdSendMessage         = "SendMessage"
)

// dispatch decodes one frame and runs it against the engine. Failures are
// returned to the caller only.
func (s *Server) dispatch(ctx context.Context, c *client, raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.hub.reply(c, encounter.ErrorEvent("", &encounter.ValidationError{Reason: fmt.Sprintf("malformed frame: %v", err)}))
		return
	}
	var args commandArgs
	if len(msg.Payload) > 0 && string(msg.Payload) != "null" {
		if err := json.Unmarshal(msg.Payload, &args); err != nil {
			s.hub.reply(c, encounter.ErrorEvent(msg.Type, &encounter.ValidationError{Field: "payload", Reason: err.Error()}))
			return
		}
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	err := s.run(ctx, c, msg.Type, args)
	if err == nil {
		return
	}
	s.hub.reply(c, encounter.ErrorEvent(msg.Type, err))
	if msg.Type == cmdRollDice {
		s.hub.reply(c, encounter.Event{
			Type:    encounter.EventReceiveMessage,
			Payload: encounter.MessagePayload{User: "System", Message: "Error: " + err.Error()},
		})
	}
}

func (s *Server) run(ctx context.Context, c *client, command string, a commandArgs) error {
	e, id, who := s.engine, c.encounterID, c.caller
	switch command {
	case cmdStartCombat:
		return e.StartCombat(ctx, who, id, a.ParticipantIDs)
	case cmdEndTurn:
		return e.EndTurn(ctx, who, id)
	case cmdEndCombat:
		return e.EndCombat(ctx, who, id)
	case cmdUseAction:
		return e.UseAction(ctx, who, id)
	case cmdUseBonusAction:
		return e.UseBonusAction(ctx, who, id)
	case cmdUseReaction:
		return e.UseReaction(ctx, who, id, a.ActorID)
	case cmdUseMovement:
		return e.UseMovement(ctx, who, id, a.Hexes)
	case cmdAttack:
		_, err := e.Attack(ctx, who, id, a.TargetID, a.AttackRoll)
		return err
	case cmdDealDamage:
		return e.DealDamage(ctx, who, id, a.TokenID, a.Amount)
	case cmdHealToken:
		return e.HealToken(ctx, who, id, a.TokenID, a.Amount)
	case cmdAddCondition:
		return e.AddCondition(ctx, who, id, a.TokenID, a.Name)
	case cmdRemoveCondition:
		return e.RemoveCondition(ctx, who, id, a.TokenID, a.Name)
	case cmdMoveToken:
		return e.MoveToken(ctx, who, id, a.TokenID, combat.Hex{Q: a.Q, R: a.R})
	case cmdStandUp:
		return e.StandUp(ctx, who, id, a.TokenID)
	case cmdSetDifficultTerrain:
		return e.SetDifficultTerrain(ctx, who, id, a.Terrain)
	case cmdUpsertToken:
		if a.Token == nil {
			return &encounter.ValidationError{Field: "token", Reason: "required"}
		}
		return e.UpsertToken(ctx, who, id, *a.Token)
	case cmdRollDice:
		_, err := e.RollDice(ctx, who, id, a.Formula)
		return err
	case cmdSendMessage:
		return e.SendMessage(ctx, who, id, a.Message)
	default:
		return &encounter.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown command %q", command)}
	}
}
