package encounter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/thinhdabezt/hexbound-vtt/internal/game/combat"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/combatant"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/condition"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/dice"
	"github.com/thinhdabezt/hexbound-vtt/internal/storage"
)

// StartCombat rolls initiative for participantIDs and activates the
// encounter's session. Tokens without stats get defaults.
//
// Precondition: caller is the moderator; no combat is active.
// Postcondition: On success the new session is persisted and CombatStarted,
// the initiative log and TurnChanged are published.
func (e *Engine) StartCombat(ctx context.Context, caller Caller, encounterID string, participantIDs []string) error {
	return e.finish("StartCombat", encounterID, caller, e.startCombat(ctx, caller, encounterID, participantIDs))
}

func (e *Engine) startCombat(ctx context.Context, caller Caller, encounterID string, participantIDs []string) error {
	if err := requireModerator(caller, "StartCombat"); err != nil {
		return err
	}
	if len(participantIDs) == 0 {
		return invalid("participantIds", "at least one token id is required")
	}
	for _, id := range participantIDs {
		if strings.TrimSpace(id) == "" {
			return invalid("participantIds", "token ids must be non-empty")
		}
	}

	r := e.lock(encounterID)
	defer e.release(encounterID, r)

	s, err := e.loadSession(ctx, r, encounterID)
	var iv *InvariantViolation
	if err != nil && !errors.As(err, &iv) {
		return err
	}
	if s != nil && s.IsActive {
		return rejected("combat already active in round %d", s.RoundNumber)
	}

	participants := make([]combatant.Combatant, 0, len(participantIDs))
	stats := make(map[string]combatant.Combatant, len(participantIDs))
	for _, id := range participantIDs {
		c, err := e.store.UpsertDefault(ctx, encounterID, id)
		if err != nil {
			return storeErr("load participant", err)
		}
		stats[id] = c
		c.Speed = e.registry.EffectiveSpeed(c.Conditions, c.Speed)
		participants = append(participants, c)
	}

	s, initiative, err := combat.StartCombat(participants, e.roller.Source())
	if err != nil {
		return invalid("participantIds", "%v", err)
	}
	if err := e.store.SaveSessionState(ctx, encounterID, s); err != nil {
		return storeErr("save session", err)
	}
	e.armTimer(r, encounterID, s)

	e.logger.Info("combat started",
		zap.String("encounter", encounterID),
		zap.Strings("turn_order", s.TurnOrder),
	)
	events := []Event{{Type: EventCombatStarted, Payload: CombatStartedPayload{Session: s.Clone(), Initiative: initiative}}}
	for _, entry := range initiative {
		events = append(events, logLine(entry.String()))
	}
	events = append(events, e.turnEvents(s, stats)...)
	e.publish(encounterID, events...)
	return nil
}

// EndTurn passes the turn to the next actor.
//
// Precondition: combat is active and the caller controls the current actor.
func (e *Engine) EndTurn(ctx context.Context, caller Caller, encounterID string) error {
	err := func() error {
		r := e.lock(encounterID)
		defer e.release(encounterID, r)
		s, err := e.activeSession(ctx, r, encounterID)
		if err != nil {
			return err
		}
		actor, err := requireTurn(caller, s)
		if err != nil {
			return err
		}
		return e.advance(ctx, r, encounterID, s, actor+" ends the turn")
	}()
	return e.finish("EndTurn", encounterID, caller, err)
}

// EndCombat deactivates the session. The turn order is kept for inspection.
//
// Precondition: caller is the moderator; combat is active.
func (e *Engine) EndCombat(ctx context.Context, caller Caller, encounterID string) error {
	err := func() error {
		if err := requireModerator(caller, "EndCombat"); err != nil {
			return err
		}
		r := e.lock(encounterID)
		defer e.release(encounterID, r)
		s, err := e.activeSession(ctx, r, encounterID)
		if err != nil {
			return err
		}
		s.End()
		if err := e.store.SaveSessionState(ctx, encounterID, s); err != nil {
			return storeErr("save session", err)
		}
		if r.timer != nil {
			r.timer.Stop()
		}
		e.logger.Info("combat ended", zap.String("encounter", encounterID), zap.Int("round", s.RoundNumber))
		e.publish(encounterID,
			Event{Type: EventCombatEnded, Payload: CombatEndedPayload{Session: s.Clone(), Reason: "ended by " + caller.User}},
			logLine(fmt.Sprintf("Combat ended after %d rounds", s.RoundNumber)),
		)
		return nil
	}()
	return e.finish("EndCombat", encounterID, caller, err)
}

// spendSlot is the shared body of UseAction and UseBonusAction.
func (e *Engine) spendSlot(ctx context.Context, caller Caller, encounterID string, kind combat.ActionKind) error {
	r := e.lock(encounterID)
	defer e.release(encounterID, r)
	s, err := e.activeSession(ctx, r, encounterID)
	if err != nil {
		return err
	}
	actor, err := requireTurn(caller, s)
	if err != nil {
		return err
	}
	var ok bool
	switch kind {
	case combat.ActionStandard:
		ok = s.UseAction()
	case combat.ActionBonus:
		ok = s.UseBonusAction()
	}
	if !ok {
		return deficit("no "+kind.String()+" left", 1, 0)
	}
	if err := e.store.SaveSessionState(ctx, encounterID, s); err != nil {
		return storeErr("save session", err)
	}
	b, _ := s.Budget(actor)
	e.publish(encounterID, actionsUpdated(actor, b))
	return nil
}

// UseAction spends the current actor's action.
func (e *Engine) UseAction(ctx context.Context, caller Caller, encounterID string) error {
	return e.finish("UseAction", encounterID, caller, e.spendSlot(ctx, caller, encounterID, combat.ActionStandard))
}

// UseBonusAction spends the current actor's bonus action.
func (e *Engine) UseBonusAction(ctx context.Context, caller Caller, encounterID string) error {
	return e.finish("UseBonusAction", encounterID, caller, e.spendSlot(ctx, caller, encounterID, combat.ActionBonus))
}

// UseReaction spends actorID's reaction. Reactions happen outside the
// reactor's own turn, so only control of actorID is required.
func (e *Engine) UseReaction(ctx context.Context, caller Caller, encounterID, actorID string) error {
	err := func() error {
		if actorID == "" {
			return invalid("actorId", "required")
		}
		if !caller.Controls(actorID) {
			return rejected("you do not control %s", actorID)
		}
		r := e.lock(encounterID)
		defer e.release(encounterID, r)
		s, err := e.activeSession(ctx, r, encounterID)
		if err != nil {
			return err
		}
		if !s.Participates(actorID) {
			return invalid("actorId", "%s is not in combat", actorID)
		}
		if !s.UseReaction(actorID) {
			return deficit("no reaction left", 1, 0)
		}
		if err := e.store.SaveSessionState(ctx, encounterID, s); err != nil {
			return storeErr("save session", err)
		}
		b, _ := s.Budget(actorID)
		e.publish(encounterID, actionsUpdated(actorID, b))
		return nil
	}()
	return e.finish("UseReaction", encounterID, caller, err)
}

// UseMovement deducts hexes from the current actor's movement without moving
// a token.
//
// Precondition: hexes >= 0.
// Postcondition: On PreconditionError the budget is unchanged and the message
// names the deficit.
func (e *Engine) UseMovement(ctx context.Context, caller Caller, encounterID string, hexes int) error {
	err := func() error {
		if hexes < 0 {
			return invalid("hexes", "must be >= 0, got %d", hexes)
		}
		r := e.lock(encounterID)
		defer e.release(encounterID, r)
		s, err := e.activeSession(ctx, r, encounterID)
		if err != nil {
			return err
		}
		actor, err := requireTurn(caller, s)
		if err != nil {
			return err
		}
		b, _ := s.Budget(actor)
		if !s.UseMovement(hexes) {
			return deficit("insufficient movement", hexes, b.MovementRemaining)
		}
		if err := e.store.SaveSessionState(ctx, encounterID, s); err != nil {
			return storeErr("save session", err)
		}
		b, _ = s.Budget(actor)
		e.publish(encounterID, actionsUpdated(actor, b))
		return nil
	}()
	return e.finish("UseMovement", encounterID, caller, err)
}

// Attack spends the current actor's action on an attack against targetID and
// reports hit or miss against the target's armor class. Damage is applied
// separately with DealDamage.
//
// Precondition: targetID has stored stats.
func (e *Engine) Attack(ctx context.Context, caller Caller, encounterID, targetID string, attackRoll int) (combat.AttackResult, error) {
	var result combat.AttackResult
	err := func() error {
		if targetID == "" {
			return invalid("targetId", "required")
		}
		r := e.lock(encounterID)
		defer e.release(encounterID, r)
		s, err := e.activeSession(ctx, r, encounterID)
		if err != nil {
			return err
		}
		actor, err := requireTurn(caller, s)
		if err != nil {
			return err
		}
		target, err := e.store.GetStats(ctx, encounterID, targetID)
		if errors.Is(err, storage.ErrNotFound) {
			return invalid("targetId", "unknown target %q", targetID)
		}
		if err != nil {
			return storeErr("load target", err)
		}
		if !s.UseAction() {
			return deficit("no action left", 1, 0)
		}
		if err := e.store.SaveSessionState(ctx, encounterID, s); err != nil {
			return storeErr("save session", err)
		}

		result = combat.NewAttackResult(actor, targetID, attackRoll, target.ArmorClass)
		outcome := "misses"
		if result.Hit {
			outcome = "hits"
		}
		b, _ := s.Budget(actor)
		e.publish(encounterID,
			actionsUpdated(actor, b),
			logLine(fmt.Sprintf("%s attacks %s: %d vs AC %d, %s", actor, target.Name, attackRoll, target.ArmorClass, outcome)),
		)
		return nil
	}()
	return result, e.finish("Attack", encounterID, caller, err)
}

// DealDamage applies amount damage to tokenID, creating default stats for
// unknown tokens.
//
// Postcondition: TokenStatsUpdated is published; TokenDeath follows when the
// token dropped to 0 HP or died outright.
func (e *Engine) DealDamage(ctx context.Context, caller Caller, encounterID, tokenID string, amount int) error {
	err := func() error {
		if tokenID == "" {
			return invalid("tokenId", "required")
		}
		if amount < 0 {
			return invalid("amount", "must be >= 0, got %d", amount)
		}
		r := e.lock(encounterID)
		defer e.release(encounterID, r)
		c, state, err := storage.ApplyDamage(ctx, e.store, encounterID, tokenID, amount)
		if err != nil {
			return storeErr("apply damage", err)
		}
		events := []Event{
			statsUpdated(c),
			logLine(fmt.Sprintf("%s takes %d damage (%d/%d HP)", c.Name, amount, c.CurrentHP, c.MaxHP)),
		}
		if state != combatant.DeathNone {
			events = append(events,
				Event{Type: EventTokenDeath, Payload: TokenDeathPayload{TokenID: tokenID, State: state}},
				logLine(fmt.Sprintf("%s is %s", c.Name, strings.ToLower(state.String()))),
			)
		}
		e.publish(encounterID, events...)
		return nil
	}()
	return e.finish("DealDamage", encounterID, caller, err)
}

// HealToken restores up to amount HP to tokenID. Dead tokens are not healed.
//
// Postcondition: TokenRevive is published when the heal removed Unconscious.
func (e *Engine) HealToken(ctx context.Context, caller Caller, encounterID, tokenID string, amount int) error {
	err := func() error {
		if tokenID == "" {
			return invalid("tokenId", "required")
		}
		if amount < 0 {
			return invalid("amount", "must be >= 0, got %d", amount)
		}
		r := e.lock(encounterID)
		defer e.release(encounterID, r)
		c, revived, err := storage.ApplyHealing(ctx, e.store, encounterID, tokenID, amount)
		if err != nil {
			return storeErr("apply healing", err)
		}
		if c.IsDead() {
			e.publish(encounterID, logLine(c.Name+" is dead and cannot be healed"))
			return nil
		}
		events := []Event{
			statsUpdated(c),
			logLine(fmt.Sprintf("%s heals %d (%d/%d HP)", c.Name, amount, c.CurrentHP, c.MaxHP)),
		}
		if revived {
			events = append(events, Event{Type: EventTokenRevive, Payload: TokenRevivePayload{TokenID: tokenID}})
		}
		e.publish(encounterID, events...)
		return nil
	}()
	return e.finish("HealToken", encounterID, caller, err)
}

// changeCondition is the shared body of AddCondition and RemoveCondition.
func (e *Engine) changeCondition(ctx context.Context, encounterID, tokenID, name string, add bool) error {
	if tokenID == "" {
		return invalid("tokenId", "required")
	}
	if !e.registry.Valid(name) {
		return invalid("condition", "unknown condition %q", name)
	}
	r := e.lock(encounterID)
	defer e.release(encounterID, r)
	c, err := e.store.UpsertDefault(ctx, encounterID, tokenID)
	if err != nil {
		return storeErr("load stats", err)
	}
	var changed bool
	eventType := EventConditionAdded
	if add {
		changed = e.registry.Add(&c.Conditions, name)
	} else {
		changed = e.registry.Remove(&c.Conditions, name)
		eventType = EventConditionRemoved
	}
	if !changed {
		return nil
	}
	if err := e.store.SaveStats(ctx, encounterID, c); err != nil {
		return storeErr("save stats", err)
	}
	e.publish(encounterID,
		Event{Type: eventType, Payload: ConditionPayload{TokenID: tokenID, Name: name, Glyph: e.registry.Glyph(name)}},
		statsUpdated(c),
	)
	return nil
}

// AddCondition applies name to tokenID. Adding a condition the token already
// has is a no-op with no events.
func (e *Engine) AddCondition(ctx context.Context, caller Caller, encounterID, tokenID, name string) error {
	return e.finish("AddCondition", encounterID, caller, e.changeCondition(ctx, encounterID, tokenID, name, true))
}

// RemoveCondition clears name from tokenID. Removing an absent condition is a
// no-op with no events.
func (e *Engine) RemoveCondition(ctx context.Context, caller Caller, encounterID, tokenID, name string) error {
	return e.finish("RemoveCondition", encounterID, caller, e.changeCondition(ctx, encounterID, tokenID, name, false))
}

// MoveToken places tokenID at to. When the token is the current actor of an
// active combat the move costs movement (distance plus one on difficult
// terrain) and enemies it leaves are reported as opportunity attacks. Other
// combat participants may only be repositioned by the moderator.
func (e *Engine) MoveToken(ctx context.Context, caller Caller, encounterID, tokenID string, to combat.Hex) error {
	err := func() error {
		if tokenID == "" {
			return invalid("tokenId", "required")
		}
		if !caller.Controls(tokenID) {
			return rejected("you do not control %s", tokenID)
		}
		r := e.lock(encounterID)
		defer e.release(encounterID, r)

		s, err := e.loadSession(ctx, r, encounterID)
		if err != nil {
			return err
		}
		positions, err := e.store.Positions(ctx, encounterID)
		if err != nil {
			return storeErr("load positions", err)
		}
		if positions == nil {
			positions = map[string]combat.Hex{}
		}
		from := positions[tokenID]

		var events []Event
		spent := false
		if s.IsActive && s.Participates(tokenID) {
			actor, _ := s.CurrentActor()
			switch {
			case actor == tokenID:
				cost := combat.MovementCost(from, to, r.difficult)
				b, _ := s.Budget(actor)
				if !s.UseMovement(cost) {
					return deficit("insufficient movement", cost, b.MovementRemaining)
				}
				spent = true
				b, _ = s.Budget(actor)
				events = append(events, actionsUpdated(actor, b))

				enemies := make(map[string]combat.Hex)
				for _, id := range s.TurnOrder {
					if pos, ok := positions[id]; ok {
						enemies[id] = pos
					}
				}
				for _, id := range combat.OpportunityAttackCheck(from, to, enemies, tokenID) {
					events = append(events, logLine(fmt.Sprintf("%s provokes an opportunity attack from %s", tokenID, id)))
				}
			case !caller.Moderator:
				return rejected("not your turn: %s is acting", actor)
			}
		}

		if _, err := e.store.SetPosition(ctx, encounterID, tokenID, to); err != nil {
			return storeErr("set position", err)
		}
		if spent {
			if err := e.store.SaveSessionState(ctx, encounterID, s); err != nil {
				e.undo(ctx, encounterID, "restore position", func(ctx context.Context) error {
					_, err := e.store.SetPosition(ctx, encounterID, tokenID, from)
					return err
				})
				return storeErr("save session", err)
			}
		}
		events = append([]Event{{Type: EventTokenMoved, Payload: TokenMovedPayload{TokenID: tokenID, Q: to.Q, R: to.R}}}, events...)
		e.publish(encounterID, events...)
		return nil
	}()
	return e.finish("MoveToken", encounterID, caller, err)
}

// StandUp removes Prone from tokenID. During its own combat turn this costs
// half the token's speed in movement.
func (e *Engine) StandUp(ctx context.Context, caller Caller, encounterID, tokenID string) error {
	err := func() error {
		if tokenID == "" {
			return invalid("tokenId", "required")
		}
		if !caller.Controls(tokenID) {
			return rejected("you do not control %s", tokenID)
		}
		r := e.lock(encounterID)
		defer e.release(encounterID, r)

		s, err := e.loadSession(ctx, r, encounterID)
		if err != nil {
			return err
		}
		c, err := e.store.UpsertDefault(ctx, encounterID, tokenID)
		if err != nil {
			return storeErr("load stats", err)
		}
		if !c.Conditions.Has(condition.Prone) {
			return rejected("%s is not prone", tokenID)
		}

		var events []Event
		actor, inCombat := s.CurrentActor()
		if inCombat && actor != tokenID && s.Participates(tokenID) && !caller.Moderator {
			return rejected("not your turn: %s is acting", actor)
		}
		spent := false
		if inCombat && actor == tokenID {
			cost := e.registry.StandUpCost(c.Conditions, c.Speed)
			b, _ := s.Budget(actor)
			if !s.UseMovement(cost) {
				return deficit("insufficient movement to stand", cost, b.MovementRemaining)
			}
			spent = true
			b, _ = s.Budget(actor)
			events = append(events, actionsUpdated(actor, b))
		}

		before := c.Clone()
		e.registry.Remove(&c.Conditions, condition.Prone)
		if err := e.store.SaveStats(ctx, encounterID, c); err != nil {
			return storeErr("save stats", err)
		}
		if spent {
			if err := e.store.SaveSessionState(ctx, encounterID, s); err != nil {
				e.undo(ctx, encounterID, "restore stats", func(ctx context.Context) error {
					return e.store.SaveStats(ctx, encounterID, before)
				})
				return storeErr("save session", err)
			}
		}
		events = append(events,
			Event{Type: EventConditionRemoved, Payload: ConditionPayload{TokenID: tokenID, Name: condition.Prone, Glyph: e.registry.Glyph(condition.Prone)}},
			statsUpdated(c),
			logLine(c.Name+" stands up"),
		)
		e.publish(encounterID, events...)
		return nil
	}()
	return e.finish("StandUp", encounterID, caller, err)
}

// SetDifficultTerrain replaces the encounter's difficult-terrain hexes. The
// set lives in memory for the life of the process.
func (e *Engine) SetDifficultTerrain(ctx context.Context, caller Caller, encounterID string, hexes []combat.Hex) error {
	err := func() error {
		if err := requireModerator(caller, "SetDifficultTerrain"); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		r := e.lock(encounterID)
		defer e.release(encounterID, r)
		r.difficult = make(map[combat.Hex]bool, len(hexes))
		for _, h := range hexes {
			r.difficult[h] = true
		}
		e.publish(encounterID, logLine(fmt.Sprintf("Difficult terrain updated: %d hexes", len(r.difficult))))
		return nil
	}()
	return e.finish("SetDifficultTerrain", encounterID, caller, err)
}

// UpsertToken stores c as the stats of c.TokenID. The token keeps its board
// position if it already has one.
//
// Precondition: caller is the moderator.
func (e *Engine) UpsertToken(ctx context.Context, caller Caller, encounterID string, c combatant.Combatant) error {
	err := func() error {
		if err := requireModerator(caller, "UpsertToken"); err != nil {
			return err
		}
		if c.TokenID == "" {
			return invalid("tokenId", "required")
		}
		if c.MaxHP < 1 {
			return invalid("maxHp", "must be >= 1, got %d", c.MaxHP)
		}
		for _, n := range c.Conditions {
			if !e.registry.Valid(n) {
				return invalid("conditions", "unknown condition %q", n)
			}
		}
		c.Normalize(e.registry)

		r := e.lock(encounterID)
		defer e.release(encounterID, r)
		existing, err := e.store.GetStats(ctx, encounterID, c.TokenID)
		switch {
		case err == nil:
			c.Q, c.R = existing.Q, existing.R
		case !errors.Is(err, storage.ErrNotFound):
			return storeErr("load stats", err)
		}
		if err := e.store.SaveStats(ctx, encounterID, c); err != nil {
			return storeErr("save stats", err)
		}
		e.publish(encounterID, statsUpdated(c))
		return nil
	}()
	return e.finish("UpsertToken", encounterID, caller, err)
}

// Roll evaluates formula without publishing anything.
func (e *Engine) Roll(formula string) (dice.RollResult, error) {
	res, err := e.roller.RollFormula(formula)
	if err != nil {
		return dice.RollResult{}, &ValidationError{Field: "formula", Reason: err.Error(), Err: err}
	}
	return res, nil
}

// RollDice evaluates formula and publishes DiceRolled attributed to the caller.
func (e *Engine) RollDice(ctx context.Context, caller Caller, encounterID, formula string) (dice.RollResult, error) {
	res, err := e.Roll(formula)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return dice.RollResult{}, e.finish("RollDice", encounterID, caller, err)
	}
	e.publish(encounterID, Event{Type: EventDiceRolled, Payload: DiceRolledPayload{User: caller.User, Result: res}})
	return res, nil
}

// SendMessage publishes a chat message from the caller.
func (e *Engine) SendMessage(ctx context.Context, caller Caller, encounterID, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return e.finish("SendMessage", encounterID, caller, invalid("message", "must not be empty"))
	}
	if err := ctx.Err(); err != nil {
		return e.finish("SendMessage", encounterID, caller, err)
	}
	e.publish(encounterID, Event{Type: EventReceiveMessage, Payload: MessagePayload{User: caller.User, Message: message}})
	return nil
}

// Join hands deliver the events that bring a newly connected observer up to
// date: GameStateSync with every token position, TokenStatsSync with every
// combatant, and SessionSync with the session when one exists.
//
// Precondition: deliver must not call back into the Engine.
// Postcondition: deliver runs under the encounter lock, so no command's
// events can be published between the snapshot and its delivery. deliver is
// not called when loading the snapshot fails.
func (e *Engine) Join(ctx context.Context, encounterID string, deliver func([]Event)) error {
	r := e.lock(encounterID)
	defer e.release(encounterID, r)

	positions, err := e.store.Positions(ctx, encounterID)
	if err != nil {
		return storeErr("load positions", err)
	}
	if positions == nil {
		positions = map[string]combat.Hex{}
	}
	all, err := e.store.GetAllStats(ctx, encounterID)
	if err != nil {
		return storeErr("load stats", err)
	}
	if all == nil {
		all = []combatant.Combatant{}
	}
	events := []Event{
		{Type: EventGameStateSync, Payload: positions},
		{Type: EventTokenStatsSync, Payload: all},
	}
	s, err := e.store.LoadSessionState(ctx, encounterID)
	switch {
	case err == nil:
		events = append(events, Event{Type: EventSessionSync, Payload: s})
	case !errors.Is(err, storage.ErrNotFound):
		return storeErr("load session", err)
	}
	deliver(events)
	return nil
}
