package rules

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaoq/stockwatch/internal/database"
)

func testRepo(t *testing.T) (*Repository, *database.DB) {
	t.Helper()
	db, err := database.New(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return NewRepository(db, zerolog.Nop()), db
}

func TestSeedDefaultsOnce(t *testing.T) {
	repo, _ := testRepo(t)

	seeded, err := repo.SeedDefaults()
	require.NoError(t, err)
	assert.Equal(t, 8, seeded)

	// Second run is a no-op.
	seeded, err = repo.SeedDefaults()
	require.NoError(t, err)
	assert.Equal(t, 0, seeded)

	rules, err := repo.LoadEnabled()
	require.NoError(t, err)
	require.Len(t, rules, 8)

	// Highest priority first.
	assert.Equal(t, 3, rules[0].Priority)
	names := make([]string, 0, len(rules))
	for _, r := range rules {
		names = append(names, r.Name)
	}
	assert.Contains(t, names, "MA金叉买入")
	assert.Contains(t, names, "MACD死叉卖出")
}

func TestSetEnabled(t *testing.T) {
	repo, _ := testRepo(t)
	_, err := repo.SeedDefaults()
	require.NoError(t, err)

	rules, err := repo.List()
	require.NoError(t, err)
	target := rules[0].ID

	require.NoError(t, repo.SetEnabled(target, false))

	enabled, err := repo.LoadEnabled()
	require.NoError(t, err)
	assert.Len(t, enabled, 7)

	assert.Error(t, repo.SetEnabled(99999, true))
}

func TestSaveAndListSignals(t *testing.T) {
	repo, db := testRepo(t)
	_, err := db.Exec("INSERT INTO stocks (symbol, name) VALUES ('sh600000', '浦发银行')")
	require.NoError(t, err)

	entry := 10.1
	sig := &Signal{
		Type:         "buy",
		CurrentPrice: 10.5,
		EntryPrice:   &entry,
		Strength:     3,
		Triggers:     []string{"MA金叉买入"},
		Indicators:   map[string]map[string]float64{"MA": {"MA5": 10.4, "MA20": 10.1}},
		Message:      "MA5上穿MA20",
	}
	require.NoError(t, repo.SaveSignal(1, "2025-06-02", sig))

	history, err := repo.SignalHistory(1, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "buy", history[0]["signal_type"])
	assert.Equal(t, 10.5, history[0]["current_price"])
	assert.Equal(t, []string{"MA金叉买入"}, history[0]["triggers"])
}

func TestSaveSignalOncePerDay(t *testing.T) {
	repo, db := testRepo(t)
	_, err := db.Exec("INSERT INTO stocks (symbol, name) VALUES ('sh600000', '浦发银行')")
	require.NoError(t, err)

	require.NoError(t, repo.SaveSignal(1, "2025-06-02", &Signal{
		Type: "buy", CurrentPrice: 10.5, Strength: 3,
		Triggers: []string{"MA金叉买入"},
	}))
	// A later evaluation the same day replaces the row instead of stacking.
	require.NoError(t, repo.SaveSignal(1, "2025-06-02", &Signal{
		Type: "hold", CurrentPrice: 10.2, Strength: 0,
		Triggers: []string{},
	}))
	require.NoError(t, repo.SaveSignal(1, "2025-06-03", &Signal{
		Type: "hold", CurrentPrice: 10.3, Strength: 0,
		Triggers: []string{},
	}))

	history, err := repo.SignalHistory(1, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2025-06-03", history[0]["signal_date"])
	assert.Equal(t, "hold", history[1]["signal_type"])
	assert.Equal(t, 10.2, history[1]["current_price"])
}
