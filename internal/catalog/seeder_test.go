package catalog_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thinhdabezt/hexbound-vtt/internal/catalog"
)

type fakeFeed struct {
	monsters []catalog.Reference
	docs     map[string]string
	fetched  int
	listErr  error
}

func (f *fakeFeed) ListMonsters(context.Context) ([]catalog.Reference, error) {
	return f.monsters, f.listErr
}

func (f *fakeFeed) ListSpells(context.Context) ([]catalog.Reference, error) { return nil, nil }

func (f *fakeFeed) Fetch(_ context.Context, url string) (json.RawMessage, error) {
	f.fetched++
	doc, ok := f.docs[url]
	if !ok {
		return nil, errors.New("404")
	}
	return json.RawMessage(doc), nil
}

func manyMonsters(n int) *fakeFeed {
	f := &fakeFeed{docs: map[string]string{}}
	for i := 0; i < n; i++ {
		url := fmt.Sprintf("/api/monsters/m%d", i)
		f.monsters = append(f.monsters, catalog.Reference{Index: fmt.Sprintf("m%d", i), URL: url})
		f.docs[url] = fmt.Sprintf(`{"index":"m%d","name":"Monster %02d","type":"beast","armor_class":12}`, i, i)
	}
	return f
}

func TestSeeder_RespectsLimit(t *testing.T) {
	feed := manyMonsters(25)
	repo := catalog.NewMemoryRepository()
	rep, err := catalog.NewSeeder(repo, feed, 10, zap.NewNop()).Seed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, rep.MonstersAdded)
	assert.Equal(t, 10, feed.fetched)

	n, err := repo.CountMonsters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestSeeder_SkipsWhenPopulated(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	require.NoError(t, repo.InsertMonsters(context.Background(), []catalog.Monster{{Index: "x", Name: "X"}}))
	feed := manyMonsters(3)
	rep, err := catalog.NewSeeder(repo, feed, 10, zap.NewNop()).Seed(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.MonstersSkipped)
	assert.Zero(t, feed.fetched)
}

func TestSeeder_ListFailureIsError(t *testing.T) {
	feed := &fakeFeed{listErr: errors.New("offline")}
	_, err := catalog.NewSeeder(catalog.NewMemoryRepository(), feed, 10, zap.NewNop()).Seed(context.Background())
	assert.Error(t, err)
}

func TestDecodeMonster_Invalid(t *testing.T) {
	_, err := catalog.DecodeMonster(json.RawMessage(`{"name":"NoIndex"}`))
	assert.Error(t, err)
	_, err = catalog.DecodeMonster(json.RawMessage(`not json`))
	assert.Error(t, err)
}

func TestDecodeSpell(t *testing.T) {
	s, err := catalog.DecodeSpell(json.RawMessage(`{"index":"shield","name":"Shield","level":1,"school":{"name":"Abjuration"}}`))
	require.NoError(t, err)
	assert.Equal(t, "Abjuration", s.School)
	assert.Equal(t, 1, s.Level)
}

func TestMemoryRepository_ListLimitAndOrder(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.InsertMonsters(ctx, []catalog.Monster{
		{Index: "c", Name: "Cyclops"}, {Index: "a", Name: "Aboleth"}, {Index: "b", Name: "Bandit"},
		{Index: "a", Name: "Duplicate"},
	}))
	ms, err := repo.ListMonsters(ctx, 2)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "Aboleth", ms[0].Name)
	assert.Equal(t, "Bandit", ms[1].Name)
}
