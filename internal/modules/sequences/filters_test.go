package sequences

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/modules/planning"
)

type staticCorrelations map[string]float64

func (s staticCorrelations) CorrelationMap(symbols []string) (map[string]float64, error) {
	return s, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func buySeq(symbols ...string) planning.ActionSequence {
	actions := make([]planning.ActionCandidate, 0, len(symbols))
	for _, s := range symbols {
		actions = append(actions, planning.ActionCandidate{
			Side: "BUY", Symbol: s, Quantity: 1, MinLot: 1, ValueEUR: 100, Priority: 1,
		})
	}
	return planning.NewSequence("test", actions)
}

func TestCorrelationAwareFilter_DropsCorrelatedPairs(t *testing.T) {
	provider := staticCorrelations{
		"GLD:SLV": 0.92,
		"SPY:QQQ": 0.93,
		"GLD:SPY": 0.25,
	}
	filter := NewCorrelationAwareFilter(provider, testLogger())

	input := []planning.ActionSequence{
		buySeq("GLD", "SLV"),
		buySeq("GLD", "SPY"),
		buySeq("SPY", "QQQ"),
	}
	out, err := filter.Filter(input, filter.DefaultParams())
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, "GLD", out[0].Actions[0].Symbol)
	assert.Equal(t, "SPY", out[0].Actions[1].Symbol)
}

func TestCorrelationAwareFilter_ReversedKeyLookup(t *testing.T) {
	// The pair is stored in one direction only; lookup must find it
	// regardless of the buy order inside the sequence.
	provider := staticCorrelations{"AAA:BBB": 0.95}
	filter := NewCorrelationAwareFilter(provider, testLogger())

	out, err := filter.Filter([]planning.ActionSequence{buySeq("BBB", "AAA")}, filter.DefaultParams())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCorrelationAwareFilter_NoDataPassesThrough(t *testing.T) {
	filter := NewCorrelationAwareFilter(nil, testLogger())

	input := []planning.ActionSequence{buySeq("GLD", "SLV")}
	out, err := filter.Filter(input, filter.DefaultParams())
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestCorrelationAwareFilter_SingleBuyNeverFiltered(t *testing.T) {
	provider := staticCorrelations{"GLD:SLV": 0.99}
	filter := NewCorrelationAwareFilter(provider, testLogger())

	out, err := filter.Filter([]planning.ActionSequence{buySeq("GLD")}, filter.DefaultParams())
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestBuildCorrelationMap(t *testing.T) {
	up := []float64{0.01, 0.02, -0.01, 0.03, 0.01, -0.02, 0.02, 0.01}
	down := make([]float64, len(up))
	for i, v := range up {
		down[i] = -v
	}

	correlations := BuildCorrelationMap(map[string][]float64{
		"AAA": up,
		"BBB": up,
		"CCC": down,
	}, 5)

	assert.InDelta(t, 1.0, correlations["AAA:BBB"], 1e-9)
	assert.InDelta(t, -1.0, correlations["AAA:CCC"], 1e-9)
	assert.InDelta(t, -1.0, correlations["BBB:CCC"], 1e-9)
}

func TestBuildCorrelationMap_SkipsShortSeries(t *testing.T) {
	correlations := BuildCorrelationMap(map[string][]float64{
		"AAA": {0.01, 0.02, -0.01},
		"BBB": {0.01, 0.02, -0.01},
	}, 5)
	assert.Empty(t, correlations)
}
