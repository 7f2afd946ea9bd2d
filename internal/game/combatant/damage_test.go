package combatant_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/thinhdabezt/hexbound-vtt/internal/game/combatant"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/condition"
)

func withHP(cur, max int, conds ...string) combatant.Combatant {
	c := combatant.New("t1")
	c.MaxHP = max
	c.CurrentHP = cur
	c.Conditions = condition.Set(conds)
	return c
}

func TestApplyDamage_ExactlyToZero_Unconscious(t *testing.T) {
	c := withHP(5, 10)
	ev := combatant.ApplyDamage(&c, 5)
	assert.Equal(t, 0, c.CurrentHP)
	assert.Equal(t, combatant.DeathUnconscious, ev)
	assert.True(t, c.Conditions.Has(condition.Unconscious))
}

func TestApplyDamage_MassiveOverkill_Dead(t *testing.T) {
	c := withHP(5, 10)
	ev := combatant.ApplyDamage(&c, 20)
	assert.Equal(t, 0, c.CurrentHP)
	assert.Equal(t, combatant.DeathDead, ev)
	assert.True(t, c.Conditions.Has(condition.Dead))
	assert.False(t, c.Conditions.Has(condition.Unconscious))
}

func TestApplyDamage_OverkillBelowMax_Unconscious(t *testing.T) {
	c := withHP(5, 10)
	ev := combatant.ApplyDamage(&c, 14) // overkill 9 < 10
	assert.Equal(t, combatant.DeathUnconscious, ev)
}

func TestApplyDamage_AlreadyAtZero_NoEvent(t *testing.T) {
	c := withHP(0, 10, condition.Unconscious)
	ev := combatant.ApplyDamage(&c, 50)
	assert.Equal(t, combatant.DeathNone, ev)
	assert.Equal(t, condition.Set{condition.Unconscious}, c.Conditions)
}

func TestApplyDamage_NotLethal(t *testing.T) {
	c := withHP(8, 10)
	ev := combatant.ApplyDamage(&c, 3)
	assert.Equal(t, combatant.DeathNone, ev)
	assert.Equal(t, 5, c.CurrentHP)
	assert.Empty(t, c.Conditions)
}

func TestApplyHealing_Dead_Unchanged(t *testing.T) {
	c := withHP(0, 10, condition.Dead)
	before := c.Clone()
	revived := combatant.ApplyHealing(&c, 7)
	assert.False(t, revived)
	assert.Equal(t, before, c)
}

func TestApplyHealing_RevivesFromZero(t *testing.T) {
	c := withHP(0, 10, condition.Unconscious)
	revived := combatant.ApplyHealing(&c, 3)
	assert.True(t, revived)
	assert.Equal(t, 3, c.CurrentHP)
	assert.False(t, c.Conditions.Has(condition.Unconscious))
}

func TestApplyHealing_CapsAtMax(t *testing.T) {
	c := withHP(8, 10)
	assert.False(t, combatant.ApplyHealing(&c, 50))
	assert.Equal(t, 10, c.CurrentHP)
}

func TestNormalize(t *testing.T) {
	c := combatant.Combatant{TokenID: "x", MaxHP: 10, CurrentHP: 40, Speed: -2,
		Conditions: condition.Set{condition.Unconscious, "Bogus", condition.Dead, condition.Dead}}
	c.Normalize(condition.Standard())
	assert.Equal(t, 10, c.CurrentHP)
	assert.Equal(t, 0, c.Speed)
	assert.Equal(t, combatant.DefaultName, c.Name)
	assert.Equal(t, condition.Set{condition.Dead}, c.Conditions)
}

func TestCombatant_JSONShape(t *testing.T) {
	c := combatant.New("goblin-1")
	data, err := json.Marshal(c)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	for _, key := range []string{"tokenId", "name", "maxHp", "currentHp", "armorClass", "speed", "initiativeModifier", "conditions", "q", "r"} {
		assert.Contains(t, m, key)
	}
	assert.Equal(t, []any{}, m["conditions"])
}

func TestDeathState_Text(t *testing.T) {
	b, err := json.Marshal(map[string]combatant.DeathState{"s": combatant.DeathDead})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"Dead"}`, string(b))
}

func TestPropertyApplyDamage_Invariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		max := rapid.IntRange(1, 200).Draw(t, "max")
		cur := rapid.IntRange(0, max).Draw(t, "cur")
		c := withHP(cur, max)
		hits := rapid.SliceOf(rapid.IntRange(0, 300)).Draw(t, "hits")
		for _, h := range hits {
			combatant.ApplyDamage(&c, h)
			assert.GreaterOrEqual(t, c.CurrentHP, 0)
			assert.LessOrEqual(t, c.CurrentHP, c.MaxHP)
			assert.False(t, c.Conditions.Has(condition.Dead) && c.Conditions.Has(condition.Unconscious),
				"Dead and Unconscious must be exclusive")
		}
	})
}
