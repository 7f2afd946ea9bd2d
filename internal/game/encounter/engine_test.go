package encounter_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/thinhdabezt/hexbound-vtt/internal/game/combat"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/combatant"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/condition"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/dice"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/encounter"
	"github.com/thinhdabezt/hexbound-vtt/internal/storage"
	"github.com/thinhdabezt/hexbound-vtt/internal/storage/memory"
)

const enc = "table-1"

var (
	gm     = encounter.Caller{User: "gm", Moderator: true}
	player = encounter.Caller{User: "alice", Tokens: []string{"hero"}}
)

type recorder struct {
	mu     sync.Mutex
	events []encounter.Event
	err    error
}

func (r *recorder) Broadcast(_ string, events ...encounter.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return r.err
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) ofType(typ string) []encounter.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []encounter.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func newEngine(t *testing.T, st storage.Store, opts encounter.Options, faces ...int) (*encounter.Engine, *recorder) {
	t.Helper()
	if len(faces) == 0 {
		faces = []int{10}
	}
	rec := &recorder{}
	roller := dice.NewLoggedRoller(dice.NewFixedSource(faces...), zap.NewNop())
	e := encounter.NewEngine(st, condition.Standard(), roller, rec, opts, zaptest.NewLogger(t))
	t.Cleanup(e.Close)
	return e, rec
}

// startGoblinFirst seeds hero (+2) and goblin (+0) and starts combat with
// rolls hero 10, goblin 15, so the order is goblin then hero.
func startGoblinFirst(t *testing.T, opts encounter.Options) (*encounter.Engine, *memory.Store, *recorder) {
	t.Helper()
	st := memory.New()
	ctx := context.Background()
	hero := combatant.New("hero")
	hero.Name = "Hero"
	hero.InitiativeModifier = 2
	goblin := combatant.New("goblin")
	goblin.Name = "Goblin"
	goblin.ArmorClass = 13
	require.NoError(t, st.SaveStats(ctx, enc, hero))
	require.NoError(t, st.SaveStats(ctx, enc, goblin))

	e, rec := newEngine(t, st, opts, 10, 15)
	require.NoError(t, e.StartCombat(ctx, gm, enc, []string{"hero", "goblin"}))
	return e, st, rec
}

func session(t *testing.T, st storage.Store) *combat.Session {
	t.Helper()
	s, err := st.LoadSessionState(context.Background(), enc)
	require.NoError(t, err)
	return s
}

func TestStartCombat_OrdersAndPublishes(t *testing.T) {
	_, st, rec := startGoblinFirst(t, encounter.Options{})

	s := session(t, st)
	assert.Equal(t, []string{"goblin", "hero"}, s.TurnOrder)
	assert.Equal(t, map[string]int{"goblin": 15, "hero": 12}, s.InitiativeRolls)
	assert.True(t, s.IsActive)

	assert.Equal(t, []string{
		encounter.EventCombatStarted,
		encounter.EventCombatLog,
		encounter.EventCombatLog,
		encounter.EventTurnChanged,
	}, rec.types())
	turn := rec.ofType(encounter.EventTurnChanged)[0].Payload.(encounter.TurnChangedPayload)
	assert.Equal(t, "goblin", turn.ActorID)
	assert.Equal(t, 6, turn.Budget.MovementRemaining)
	assert.True(t, turn.CanAct)
}

func TestStartCombat_Rejections(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, memory.New(), encounter.Options{})

	err := e.StartCombat(ctx, player, enc, []string{"hero"})
	assert.Equal(t, encounter.KindPrecondition, encounter.Kind(err))

	err = e.StartCombat(ctx, gm, enc, nil)
	assert.Equal(t, encounter.KindValidation, encounter.Kind(err))

	require.NoError(t, e.StartCombat(ctx, gm, enc, []string{"a", "a", "b"}))
	err = e.StartCombat(ctx, gm, enc, []string{"a"})
	assert.Equal(t, encounter.KindPrecondition, encounter.Kind(err))
}

func TestStartCombat_DuplicatesAndMissingStats(t *testing.T) {
	st := memory.New()
	e, _ := newEngine(t, st, encounter.Options{})
	require.NoError(t, e.StartCombat(context.Background(), gm, enc, []string{"x", "y", "x"}))

	s := session(t, st)
	assert.ElementsMatch(t, []string{"x", "y"}, s.TurnOrder)

	c, err := st.GetStats(context.Background(), enc, "x")
	require.NoError(t, err)
	assert.Equal(t, combatant.New("x"), c)
}

func TestUseAction_TwiceFailsThenResetsNextTurn(t *testing.T) {
	ctx := context.Background()
	e, st, rec := startGoblinFirst(t, encounter.Options{})
	rec.reset()

	require.NoError(t, e.UseAction(ctx, gm, enc))
	err := e.UseAction(ctx, gm, enc)
	require.Error(t, err)
	assert.Equal(t, encounter.KindPrecondition, encounter.Kind(err))
	assert.Contains(t, err.Error(), "need 1, have 0")
	assert.Len(t, rec.ofType(encounter.EventTurnActionsUpdated), 1)

	require.NoError(t, e.EndTurn(ctx, gm, enc))
	require.NoError(t, e.EndTurn(ctx, gm, enc))
	s := session(t, st)
	assert.Equal(t, 0, s.CurrentTurnIndex)
	assert.Equal(t, 2, s.RoundNumber)
	require.NoError(t, e.UseAction(ctx, gm, enc))
}

func TestTurnOwnership(t *testing.T) {
	ctx := context.Background()
	e, st, _ := startGoblinFirst(t, encounter.Options{})

	err := e.UseAction(ctx, player, enc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not your turn")
	b, _ := session(t, st).Budget("goblin")
	assert.False(t, b.ActionUsed)

	require.NoError(t, e.EndTurn(ctx, gm, enc))
	require.NoError(t, e.UseBonusAction(ctx, player, enc))
	assert.Equal(t, encounter.KindPrecondition, encounter.Kind(e.EndCombat(ctx, player, enc)))
}

func TestUseReaction_OutOfTurn(t *testing.T) {
	ctx := context.Background()
	e, st, _ := startGoblinFirst(t, encounter.Options{})

	require.NoError(t, e.UseReaction(ctx, player, enc, "hero"))
	err := e.UseReaction(ctx, player, enc, "hero")
	assert.Equal(t, encounter.KindPrecondition, encounter.Kind(err))

	err = e.UseReaction(ctx, player, enc, "goblin")
	assert.Equal(t, encounter.KindPrecondition, encounter.Kind(err))

	err = e.UseReaction(ctx, gm, enc, "nobody")
	assert.Equal(t, encounter.KindValidation, encounter.Kind(err))

	b, _ := session(t, st).Budget("hero")
	assert.True(t, b.ReactionUsed)
}

func TestUseMovement_DeficitMessage(t *testing.T) {
	ctx := context.Background()
	e, st, _ := startGoblinFirst(t, encounter.Options{})

	require.NoError(t, e.UseMovement(ctx, gm, enc, 2))
	err := e.UseMovement(ctx, gm, enc, 5)
	require.Error(t, err)
	assert.EqualError(t, err, "insufficient movement: need 5, have 4")

	assert.Equal(t, encounter.KindValidation, encounter.Kind(e.UseMovement(ctx, gm, enc, -1)))
	b, _ := session(t, st).Budget("goblin")
	assert.Equal(t, 4, b.MovementRemaining)
}

func TestEndTurn_ResetUsesEffectiveSpeed(t *testing.T) {
	ctx := context.Background()
	e, st, rec := startGoblinFirst(t, encounter.Options{})
	require.NoError(t, e.AddCondition(ctx, gm, enc, "hero", condition.Grappled))
	rec.reset()

	require.NoError(t, e.EndTurn(ctx, gm, enc))
	b, _ := session(t, st).Budget("hero")
	assert.Equal(t, 0, b.MovementRemaining)

	turn := rec.ofType(encounter.EventTurnChanged)[0].Payload.(encounter.TurnChangedPayload)
	assert.Equal(t, "hero", turn.ActorID)
	assert.True(t, turn.CanAct)
}

func TestEndTurn_StunnedActorIsNotSkipped(t *testing.T) {
	ctx := context.Background()
	e, st, rec := startGoblinFirst(t, encounter.Options{})
	require.NoError(t, e.AddCondition(ctx, gm, enc, "hero", condition.Stunned))
	rec.reset()

	require.NoError(t, e.EndTurn(ctx, gm, enc))
	actor, _ := session(t, st).CurrentActor()
	assert.Equal(t, "hero", actor)
	turn := rec.ofType(encounter.EventTurnChanged)[0].Payload.(encounter.TurnChangedPayload)
	assert.False(t, turn.CanAct)
}

func TestEndTurn_DefaultSpeedForUnknownActor(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	e, _ := newEngine(t, st, encounter.Options{DefaultSpeed: 8}, 20, 1)
	require.NoError(t, e.StartCombat(ctx, gm, enc, []string{"a", "b"}))

	// b was defaulted by StartCombat; dropping its stats leaves no entry.
	empty := memory.New()
	s := session(t, st)
	require.NoError(t, empty.SaveSessionState(ctx, enc, s))
	e2, _ := newEngine(t, empty, encounter.Options{DefaultSpeed: 8})
	require.NoError(t, e2.EndTurn(ctx, gm, enc))

	s2, err := empty.LoadSessionState(ctx, enc)
	require.NoError(t, err)
	b, _ := s2.Budget("b")
	assert.Equal(t, 8, b.MovementRemaining)
}

func TestAttack(t *testing.T) {
	ctx := context.Background()
	e, _, rec := startGoblinFirst(t, encounter.Options{})
	require.NoError(t, e.EndTurn(ctx, gm, enc))
	rec.reset()

	_, err := e.Attack(ctx, player, enc, "ghost", 20)
	assert.Equal(t, encounter.KindValidation, encounter.Kind(err))

	res, err := e.Attack(ctx, player, enc, "goblin", 13)
	require.NoError(t, err)
	assert.True(t, res.Hit)
	assert.Equal(t, 13, res.TargetAC)

	_, err = e.Attack(ctx, player, enc, "goblin", 20)
	assert.Contains(t, err.Error(), "no action left")

	logs := rec.ofType(encounter.EventCombatLog)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Payload.(encounter.CombatLogPayload).Text, "hits")
}

func TestAttack_MissBelowAC(t *testing.T) {
	ctx := context.Background()
	e, _, _ := startGoblinFirst(t, encounter.Options{})
	require.NoError(t, e.EndTurn(ctx, gm, enc))
	res, err := e.Attack(ctx, player, enc, "goblin", 12)
	require.NoError(t, err)
	assert.False(t, res.Hit)
}

func TestDamageDeathAndHealing(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	e, rec := newEngine(t, st, encounter.Options{})

	c := combatant.New("orc")
	c.CurrentHP = 5
	require.NoError(t, st.SaveStats(ctx, enc, c))

	require.NoError(t, e.DealDamage(ctx, gm, enc, "orc", 5))
	deaths := rec.ofType(encounter.EventTokenDeath)
	require.Len(t, deaths, 1)
	assert.Equal(t, combatant.DeathUnconscious, deaths[0].Payload.(encounter.TokenDeathPayload).State)

	rec.reset()
	require.NoError(t, e.HealToken(ctx, gm, enc, "orc", 3))
	assert.Len(t, rec.ofType(encounter.EventTokenRevive), 1)
	got, err := st.GetStats(ctx, enc, "orc")
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentHP)
	assert.False(t, got.Conditions.Has(condition.Unconscious))

	rec.reset()
	require.NoError(t, e.DealDamage(ctx, gm, enc, "orc", 20))
	deaths = rec.ofType(encounter.EventTokenDeath)
	require.Len(t, deaths, 1)
	assert.Equal(t, combatant.DeathDead, deaths[0].Payload.(encounter.TokenDeathPayload).State)

	rec.reset()
	require.NoError(t, e.HealToken(ctx, gm, enc, "orc", 10))
	assert.Empty(t, rec.ofType(encounter.EventTokenStatsUpdated))
	got, err = st.GetStats(ctx, enc, "orc")
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentHP)
	assert.True(t, got.IsDead())

	assert.Equal(t, encounter.KindValidation, encounter.Kind(e.DealDamage(ctx, gm, enc, "orc", -1)))
	assert.Equal(t, encounter.KindValidation, encounter.Kind(e.HealToken(ctx, gm, enc, "", 1)))
}

func TestDealDamage_UnknownTokenGetsDefaults(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	e, _ := newEngine(t, st, encounter.Options{})
	require.NoError(t, e.DealDamage(ctx, gm, enc, "stranger", 4))
	c, err := st.GetStats(ctx, enc, "stranger")
	require.NoError(t, err)
	assert.Equal(t, combatant.DefaultMaxHP-4, c.CurrentHP)
}

func TestConditions(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	e, rec := newEngine(t, st, encounter.Options{})

	err := e.AddCondition(ctx, gm, enc, "hero", "Sleepy")
	assert.Equal(t, encounter.KindValidation, encounter.Kind(err))

	require.NoError(t, e.AddCondition(ctx, gm, enc, "hero", condition.Poisoned))
	require.NoError(t, e.AddCondition(ctx, gm, enc, "hero", condition.Poisoned))
	added := rec.ofType(encounter.EventConditionAdded)
	require.Len(t, added, 1)
	assert.Equal(t, condition.Poisoned, added[0].Payload.(encounter.ConditionPayload).Name)

	require.NoError(t, e.RemoveCondition(ctx, gm, enc, "hero", condition.Poisoned))
	require.NoError(t, e.RemoveCondition(ctx, gm, enc, "hero", condition.Poisoned))
	assert.Len(t, rec.ofType(encounter.EventConditionRemoved), 1)

	c, err := st.GetStats(ctx, enc, "hero")
	require.NoError(t, err)
	assert.Empty(t, c.Conditions)
}

func TestMoveToken_InCombat(t *testing.T) {
	ctx := context.Background()
	e, st, rec := startGoblinFirst(t, encounter.Options{})
	_, err := st.SetPosition(ctx, enc, "hero", combat.Hex{Q: -1, R: 0})
	require.NoError(t, err)
	require.NoError(t, e.SetDifficultTerrain(ctx, gm, enc, []combat.Hex{{Q: 2, R: 0}}))
	rec.reset()

	require.NoError(t, e.MoveToken(ctx, gm, enc, "goblin", combat.Hex{Q: 2, R: 0}))
	b, _ := session(t, st).Budget("goblin")
	assert.Equal(t, 3, b.MovementRemaining)

	moved := rec.ofType(encounter.EventTokenMoved)
	require.Len(t, moved, 1)
	assert.Equal(t, encounter.TokenMovedPayload{TokenID: "goblin", Q: 2, R: 0}, moved[0].Payload)
	logs := rec.ofType(encounter.EventCombatLog)
	require.Len(t, logs, 1)
	assert.Equal(t, "goblin provokes an opportunity attack from hero", logs[0].Payload.(encounter.CombatLogPayload).Text)

	err = e.MoveToken(ctx, gm, enc, "goblin", combat.Hex{Q: 6, R: 0})
	assert.EqualError(t, err, "insufficient movement: need 4, have 3")
	pos, err := st.Positions(ctx, enc)
	require.NoError(t, err)
	assert.Equal(t, combat.Hex{Q: 2, R: 0}, pos["goblin"])

	err = e.MoveToken(ctx, player, enc, "hero", combat.Hex{Q: 0, R: 0})
	assert.Contains(t, err.Error(), "not your turn")
	err = e.MoveToken(ctx, player, enc, "goblin", combat.Hex{Q: 0, R: 0})
	assert.Contains(t, err.Error(), "do not control")
}

func TestMoveToken_OutOfCombatIsFree(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	e, rec := newEngine(t, st, encounter.Options{})
	require.NoError(t, e.MoveToken(ctx, player, enc, "hero", combat.Hex{Q: 9, R: -9}))
	pos, err := st.Positions(ctx, enc)
	require.NoError(t, err)
	assert.Equal(t, combat.Hex{Q: 9, R: -9}, pos["hero"])
	assert.Equal(t, []string{encounter.EventTokenMoved}, rec.types())
}

func TestStandUp(t *testing.T) {
	ctx := context.Background()
	e, st, _ := startGoblinFirst(t, encounter.Options{})
	require.NoError(t, e.AddCondition(ctx, gm, enc, "goblin", condition.Prone))

	require.NoError(t, e.StandUp(ctx, gm, enc, "goblin"))
	b, _ := session(t, st).Budget("goblin")
	assert.Equal(t, 3, b.MovementRemaining)
	c, err := st.GetStats(ctx, enc, "goblin")
	require.NoError(t, err)
	assert.False(t, c.Conditions.Has(condition.Prone))

	assert.Equal(t, encounter.KindPrecondition, encounter.Kind(e.StandUp(ctx, gm, enc, "goblin")))
}

func TestUpsertToken_KeepsPosition(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	e, rec := newEngine(t, st, encounter.Options{})
	_, err := st.SetPosition(ctx, enc, "elf", combat.Hex{Q: 4, R: 1})
	require.NoError(t, err)

	c := combatant.New("elf")
	c.Name = "Elf"
	c.MaxHP, c.CurrentHP = 20, 25
	require.NoError(t, e.UpsertToken(ctx, gm, enc, c))

	got, err := st.GetStats(ctx, enc, "elf")
	require.NoError(t, err)
	assert.Equal(t, 20, got.CurrentHP)
	assert.Equal(t, 4, got.Q)
	assert.Len(t, rec.ofType(encounter.EventTokenStatsUpdated), 1)

	c.Conditions = condition.Set{"Sleepy"}
	assert.Equal(t, encounter.KindValidation, encounter.Kind(e.UpsertToken(ctx, gm, enc, c)))
	assert.Equal(t, encounter.KindPrecondition, encounter.Kind(e.UpsertToken(ctx, player, enc, combatant.New("elf"))))
}

func TestEndCombat(t *testing.T) {
	ctx := context.Background()
	e, st, rec := startGoblinFirst(t, encounter.Options{})
	rec.reset()
	require.NoError(t, e.EndCombat(ctx, gm, enc))
	assert.False(t, session(t, st).IsActive)
	assert.Len(t, rec.ofType(encounter.EventCombatEnded), 1)

	assert.Equal(t, encounter.KindPrecondition, encounter.Kind(e.UseAction(ctx, gm, enc)))
	require.NoError(t, e.StartCombat(ctx, gm, enc, []string{"hero"}))
}

func TestCorruptSnapshotIsDeactivated(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	bad := combat.NewSession()
	bad.TurnOrder = []string{"a"}
	bad.InitiativeRolls["a"] = 10
	bad.ActionBudgets["a"] = combat.NewActionBudget(6)
	bad.CurrentTurnIndex = 5
	bad.IsActive = true
	require.NoError(t, st.SaveSessionState(ctx, enc, bad))

	e, rec := newEngine(t, st, encounter.Options{})
	err := e.UseAction(ctx, gm, enc)
	var iv *encounter.InvariantViolation
	require.ErrorAs(t, err, &iv)
	assert.ErrorIs(t, err, combat.ErrInvariant)
	assert.Equal(t, encounter.KindInvariant, encounter.Kind(err))

	assert.False(t, session(t, st).IsActive)
	assert.Len(t, rec.ofType(encounter.EventCombatEnded), 1)
}

type flakyStore struct {
	*memory.Store
}

func (flakyStore) LoadSessionState(context.Context, string) (*combat.Session, error) {
	return nil, storage.Transient("load session", context.DeadlineExceeded)
}

func TestTransientStoreError(t *testing.T) {
	e, _ := newEngine(t, flakyStore{memory.New()}, encounter.Options{})
	err := e.EndTurn(context.Background(), gm, enc)
	var te *encounter.TransientStoreError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, encounter.KindTransient, encounter.Kind(err))
}

type stallingStore struct {
	*memory.Store
}

func (stallingStore) UpsertDefault(ctx context.Context, _, _ string) (combatant.Combatant, error) {
	<-ctx.Done()
	return combatant.Combatant{}, ctx.Err()
}

func TestStoreTimeoutIsTransient(t *testing.T) {
	e, _ := newEngine(t, storage.WithTimeout(stallingStore{memory.New()}, 20*time.Millisecond), encounter.Options{})
	err := e.DealDamage(context.Background(), gm, enc, "hero", 1)
	require.Error(t, err)
	assert.Equal(t, encounter.KindTransient, encounter.Kind(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBroadcastFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	e, rec := newEngine(t, st, encounter.Options{})
	rec.err = errors.New("hub down")

	require.NoError(t, e.DealDamage(ctx, gm, enc, "hero", 3))
	c, err := st.GetStats(ctx, enc, "hero")
	require.NoError(t, err)
	assert.Equal(t, 7, c.CurrentHP)
}

func TestConcurrentMovementNeverNegative(t *testing.T) {
	ctx := context.Background()
	e, st, _ := startGoblinFirst(t, encounter.Options{})

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.UseMovement(ctx, gm, enc, 1); err == nil {
				ok.Add(1)
			} else {
				assert.Equal(t, encounter.KindPrecondition, encounter.Kind(err))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(6), ok.Load())
	b, _ := session(t, st).Budget("goblin")
	assert.Equal(t, 0, b.MovementRemaining)
}

func TestMovementLedgerProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		st := memory.New()
		speed := rapid.IntRange(0, 12).Draw(rt, "speed")
		c := combatant.New("a")
		c.Speed = speed
		require.NoError(rt, st.SaveStats(ctx, enc, c))

		rec := &recorder{}
		e := encounter.NewEngine(st, condition.Standard(), dice.NewLoggedRoller(dice.NewFixedSource(5), zap.NewNop()), rec, encounter.Options{}, zap.NewNop())
		require.NoError(rt, e.StartCombat(ctx, gm, enc, []string{"a"}))

		remaining := speed
		steps := rapid.SliceOfN(rapid.IntRange(0, 5), 1, 20).Draw(rt, "steps")
		for _, h := range steps {
			err := e.UseMovement(ctx, gm, enc, h)
			if h <= remaining {
				require.NoError(rt, err)
				remaining -= h
			} else {
				require.Error(rt, err)
			}
			s, lerr := st.LoadSessionState(ctx, enc)
			require.NoError(rt, lerr)
			b, _ := s.Budget("a")
			require.GreaterOrEqual(rt, b.MovementRemaining, 0)
			require.Equal(rt, remaining, b.MovementRemaining)
		}
	})
}

func TestTurnTimerAdvances(t *testing.T) {
	_, st, rec := startGoblinFirst(t, encounter.Options{TurnTimeout: 30 * time.Millisecond})

	require.Eventually(t, func() bool {
		for _, ev := range rec.ofType(encounter.EventTurnChanged) {
			if ev.Payload.(encounter.TurnChangedPayload).ActorID == "hero" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	s := session(t, st)
	assert.True(t, s.IsActive)
}

func TestRollDiceAndChat(t *testing.T) {
	ctx := context.Background()
	e, rec := newEngine(t, memory.New(), encounter.Options{}, 3, 4)

	_, err := e.RollDice(ctx, player, enc, "banana")
	assert.Equal(t, encounter.KindValidation, encounter.Kind(err))
	assert.ErrorIs(t, err, dice.ErrInvalidFormula)

	res, err := e.RollDice(ctx, player, enc, "2d6+5")
	require.NoError(t, err)
	assert.Equal(t, 12, res.Total)
	rolled := rec.ofType(encounter.EventDiceRolled)
	require.Len(t, rolled, 1)
	assert.Equal(t, "alice", rolled[0].Payload.(encounter.DiceRolledPayload).User)

	assert.Equal(t, encounter.KindValidation, encounter.Kind(e.SendMessage(ctx, player, enc, "   ")))
	require.NoError(t, e.SendMessage(ctx, player, enc, "hello"))
	msgs := rec.ofType(encounter.EventReceiveMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, encounter.MessagePayload{User: "alice", Message: "hello"}, msgs[0].Payload)
}

func join(t *testing.T, e *encounter.Engine, encounterID string) []encounter.Event {
	t.Helper()
	var events []encounter.Event
	require.NoError(t, e.Join(context.Background(), encounterID, func(evs []encounter.Event) {
		events = evs
	}))
	return events
}

func TestJoinSync(t *testing.T) {
	ctx := context.Background()
	e, st, _ := startGoblinFirst(t, encounter.Options{})
	_, err := st.SetPosition(ctx, enc, "hero", combat.Hex{Q: 1, R: 1})
	require.NoError(t, err)

	events := join(t, e, enc)
	require.Len(t, events, 3)
	assert.Equal(t, encounter.EventGameStateSync, events[0].Type)
	assert.Equal(t, combat.Hex{Q: 1, R: 1}, events[0].Payload.(map[string]combat.Hex)["hero"])
	assert.Len(t, events[1].Payload.([]combatant.Combatant), 2)
	assert.Equal(t, encounter.EventSessionSync, events[2].Type)

	fresh, _ := newEngine(t, memory.New(), encounter.Options{})
	events = join(t, fresh, "empty")
	require.Len(t, events, 2)
	assert.Empty(t, events[1].Payload)
}

func TestJoin_DeliversBeforeConcurrentCommands(t *testing.T) {
	ctx := context.Background()
	e, rec := newEngine(t, memory.New(), encounter.Options{})

	done := make(chan error, 1)
	err := e.Join(ctx, enc, func(events []encounter.Event) {
		assert.Len(t, events, 2)
		go func() { done <- e.MoveToken(ctx, gm, enc, "elf", combat.Hex{Q: 1}) }()
		time.Sleep(30 * time.Millisecond)
		assert.Empty(t, rec.ofType(encounter.EventTokenMoved))
	})
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Len(t, rec.ofType(encounter.EventTokenMoved), 1)
}

func TestJoin_StoreFailureSkipsDelivery(t *testing.T) {
	e, _ := newEngine(t, flakyStore{memory.New()}, encounter.Options{})
	called := false
	err := e.Join(context.Background(), enc, func([]encounter.Event) { called = true })
	assert.Equal(t, encounter.KindTransient, encounter.Kind(err))
	assert.False(t, called)
}

// faultyStore fails selected writes with a transient error.
type faultyStore struct {
	*memory.Store
	failPosition atomic.Bool
	failStats    atomic.Bool
	failSession  atomic.Bool
}

func (f *faultyStore) SetPosition(ctx context.Context, encounterID, tokenID string, pos combat.Hex) (combatant.Combatant, error) {
	if f.failPosition.Load() {
		return combatant.Combatant{}, storage.Transient("set position", context.DeadlineExceeded)
	}
	return f.Store.SetPosition(ctx, encounterID, tokenID, pos)
}

func (f *faultyStore) SaveStats(ctx context.Context, encounterID string, c combatant.Combatant) error {
	if f.failStats.Load() {
		return storage.Transient("save stats", context.DeadlineExceeded)
	}
	return f.Store.SaveStats(ctx, encounterID, c)
}

func (f *faultyStore) SaveSessionState(ctx context.Context, encounterID string, s *combat.Session) error {
	if f.failSession.Load() {
		return storage.Transient("save session", context.DeadlineExceeded)
	}
	return f.Store.SaveSessionState(ctx, encounterID, s)
}

// startFaulty starts combat on a faultyStore with goblin acting first.
func startFaulty(t *testing.T) (*encounter.Engine, *faultyStore, *recorder) {
	t.Helper()
	st := &faultyStore{Store: memory.New()}
	e, rec := newEngine(t, st, encounter.Options{}, 10, 15)
	require.NoError(t, e.StartCombat(context.Background(), gm, enc, []string{"hero", "goblin"}))
	actor, _ := session(t, st).CurrentActor()
	require.Equal(t, "goblin", actor)
	return e, st, rec
}

func TestMoveToken_FailedWriteLeavesNoPartialEffect(t *testing.T) {
	tests := []struct {
		name string
		fail func(*faultyStore) *atomic.Bool
	}{
		{"position write fails", func(f *faultyStore) *atomic.Bool { return &f.failPosition }},
		{"session write fails", func(f *faultyStore) *atomic.Bool { return &f.failSession }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e, st, rec := startFaulty(t)
			rec.reset()

			flag := tt.fail(st)
			flag.Store(true)
			err := e.MoveToken(ctx, gm, enc, "goblin", combat.Hex{Q: 3})
			assert.Equal(t, encounter.KindTransient, encounter.Kind(err))

			b, _ := session(t, st).Budget("goblin")
			assert.Equal(t, 6, b.MovementRemaining)
			positions, err := st.Positions(ctx, enc)
			require.NoError(t, err)
			assert.Equal(t, combat.Hex{}, positions["goblin"])
			assert.Empty(t, rec.types())

			flag.Store(false)
			require.NoError(t, e.MoveToken(ctx, gm, enc, "goblin", combat.Hex{Q: 3}))
			b, _ = session(t, st).Budget("goblin")
			assert.Equal(t, 3, b.MovementRemaining)
		})
	}
}

func TestStandUp_FailedWriteLeavesNoPartialEffect(t *testing.T) {
	tests := []struct {
		name string
		fail func(*faultyStore) *atomic.Bool
	}{
		{"stats write fails", func(f *faultyStore) *atomic.Bool { return &f.failStats }},
		{"session write fails", func(f *faultyStore) *atomic.Bool { return &f.failSession }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e, st, rec := startFaulty(t)
			require.NoError(t, e.AddCondition(ctx, gm, enc, "goblin", condition.Prone))
			rec.reset()

			flag := tt.fail(st)
			flag.Store(true)
			err := e.StandUp(ctx, gm, enc, "goblin")
			assert.Equal(t, encounter.KindTransient, encounter.Kind(err))

			b, _ := session(t, st).Budget("goblin")
			assert.Equal(t, 6, b.MovementRemaining)
			c, err := st.GetStats(ctx, enc, "goblin")
			require.NoError(t, err)
			assert.True(t, c.Conditions.Has(condition.Prone))
			assert.Empty(t, rec.types())

			flag.Store(false)
			require.NoError(t, e.StandUp(ctx, gm, enc, "goblin"))
			b, _ = session(t, st).Budget("goblin")
			assert.Equal(t, 3, b.MovementRemaining)
		})
	}
}

func TestStartCombat_BudgetUsesEffectiveSpeed(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	e, _ := newEngine(t, st, encounter.Options{}, 10, 15)
	require.NoError(t, e.AddCondition(ctx, gm, enc, "goblin", condition.Grappled))
	require.NoError(t, e.StartCombat(ctx, gm, enc, []string{"hero", "goblin"}))

	s := session(t, st)
	goblin, _ := s.Budget("goblin")
	hero, _ := s.Budget("hero")
	assert.Equal(t, 0, goblin.MovementRemaining)
	assert.Equal(t, combatant.DefaultSpeed, hero.MovementRemaining)
}

func TestRooms_ForgottenWhenIdle(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, memory.New(), encounter.Options{TurnTimeout: time.Hour}, 10, 15)

	for i := range 50 {
		join(t, e, fmt.Sprintf("scratch-%d", i))
	}
	assert.Zero(t, e.Rooms())

	require.NoError(t, e.SetDifficultTerrain(ctx, gm, enc, []combat.Hex{{Q: 1}}))
	assert.Equal(t, 1, e.Rooms())
	require.NoError(t, e.SetDifficultTerrain(ctx, gm, enc, nil))
	assert.Zero(t, e.Rooms())

	require.NoError(t, e.StartCombat(ctx, gm, enc, []string{"hero", "goblin"}))
	assert.Equal(t, 1, e.Rooms(), "armed turn timer keeps the encounter")
	require.NoError(t, e.EndCombat(ctx, gm, enc))
	assert.Zero(t, e.Rooms())
}
