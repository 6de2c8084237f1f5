package universe

import (
	"database/sql"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/aristath/helmsman/internal/domain"
)

// setupSecuritiesDB opens a temp-file database with the securities table.
// A temp file is shared across connections, unlike :memory:.
func setupSecuritiesDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", t.TempDir()+"/universe.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE securities (
			symbol          TEXT PRIMARY KEY,
			name            TEXT NOT NULL DEFAULT '',
			isin            TEXT NOT NULL DEFAULT '',
			yahoo_symbol    TEXT NOT NULL DEFAULT '',
			currency        TEXT NOT NULL DEFAULT 'EUR',
			country         TEXT NOT NULL DEFAULT '',
			industry        TEXT NOT NULL DEFAULT '',
			exchange        TEXT NOT NULL DEFAULT '',
			min_lot         INTEGER NOT NULL DEFAULT 1,
			allow_buy       INTEGER NOT NULL DEFAULT 1,
			allow_sell      INTEGER NOT NULL DEFAULT 1,
			min_allocation  REAL NOT NULL DEFAULT 0,
			max_allocation  REAL NOT NULL DEFAULT 0,
			priority_multiplier REAL NOT NULL DEFAULT 1.0 CHECK (priority_multiplier >= 0),
			is_active       INTEGER NOT NULL DEFAULT 1,
			ml_enabled      INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	require.NoError(t, err)
	return db
}

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	return NewRepository(setupSecuritiesDB(t), zerolog.New(os.Stderr).Level(zerolog.Disabled))
}

func TestCreate_DefaultsPriorityMultiplier(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.Create(&Security{
		Symbol:   "AAPL.US",
		Name:     "Apple",
		Currency: "USD",
		Active:   true,
	}))

	got, err := repo.GetBySymbol("AAPL.US")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.PriorityMultiplier)
}

func TestCreate_RejectsNegativePriorityMultiplier(t *testing.T) {
	repo := newTestRepository(t)

	err := repo.Create(&Security{Symbol: "AAPL.US", PriorityMultiplier: -0.5})
	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestUpdate_PriorityMultiplierRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.Create(&Security{Symbol: "ASML.EU", Active: true}))

	require.NoError(t, repo.Update("ASML.EU",
		map[string]interface{}{"priority_multiplier": 2.5}))

	got, err := repo.GetBySymbol("ASML.EU")
	require.NoError(t, err)
	assert.Equal(t, 2.5, got.PriorityMultiplier)

	// Zero disables conviction entirely and must persist as-is.
	require.NoError(t, repo.Update("ASML.EU",
		map[string]interface{}{"priority_multiplier": 0.0}))
	got, err = repo.GetBySymbol("ASML.EU")
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.PriorityMultiplier)
}

func TestUpdate_NegativePriorityMultiplierFailsCheck(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.Create(&Security{Symbol: "NVO.US", Active: true}))

	err := repo.Update("NVO.US", map[string]interface{}{"priority_multiplier": -1.0})
	assert.Error(t, err)

	got, getErr := repo.GetBySymbol("NVO.US")
	require.NoError(t, getErr)
	assert.Equal(t, 1.0, got.PriorityMultiplier)
}

func TestUpdate_RejectsUnknownColumn(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.Create(&Security{Symbol: "MSFT.US", Active: true}))

	err := repo.Update("MSFT.US", map[string]interface{}{"symbol": "HACK"})
	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestGetAllActive_CarriesPriorityMultiplier(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.Create(&Security{Symbol: "AAPL.US", Active: true}))
	require.NoError(t, repo.Create(&Security{Symbol: "ASML.EU", Active: true, PriorityMultiplier: 1.8}))

	all, err := repo.GetAllActive()
	require.NoError(t, err)
	require.Len(t, all, 2)

	bySymbol := make(map[string]float64, len(all))
	for _, s := range all {
		bySymbol[s.Symbol] = s.PriorityMultiplier
	}
	assert.Equal(t, 1.0, bySymbol["AAPL.US"])
	assert.Equal(t, 1.8, bySymbol["ASML.EU"])
}
