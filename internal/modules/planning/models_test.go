package planning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func buy(symbol string, qty int, value float64) ActionCandidate {
	return ActionCandidate{Side: "BUY", Symbol: symbol, Quantity: qty, MinLot: 1, ValueEUR: value, Priority: 1}
}

func sell(symbol string, qty int, value float64) ActionCandidate {
	return ActionCandidate{Side: "SELL", Symbol: symbol, Quantity: qty, MinLot: 1, ValueEUR: value, Priority: 2}
}

func TestNewSequence_SellsFirst(t *testing.T) {
	seq := NewSequence("test", []ActionCandidate{
		buy("AAPL", 10, 1000),
		sell("MSFT", 5, 800),
		buy("ASML", 2, 1200),
		sell("NVDA", 1, 500),
	})

	assert.True(t, seq.IsOrdered())
	assert.Equal(t, "MSFT", seq.Actions[0].Symbol)
	assert.Equal(t, "NVDA", seq.Actions[1].Symbol)
	assert.Equal(t, 4, seq.Depth)
	assert.InDelta(t, 6.0, seq.Priority, 1e-9)
}

func TestNewSequence_HashIsDeterministic(t *testing.T) {
	actions := []ActionCandidate{sell("MSFT", 5, 800), buy("AAPL", 10, 1000)}

	a := NewSequence("test", actions)
	b := NewSequence("test", actions)
	assert.Equal(t, a.SequenceHash, b.SequenceHash)

	// Quantity participates in the hash.
	c := NewSequence("test", []ActionCandidate{sell("MSFT", 5, 800), buy("AAPL", 11, 1000)})
	assert.NotEqual(t, a.SequenceHash, c.SequenceHash)
}

func TestActionCandidate_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		c     ActionCandidate
		valid bool
	}{
		{"whole lot multiple", ActionCandidate{Quantity: 100, MinLot: 100, ValueEUR: 500}, true},
		{"partial lot", ActionCandidate{Quantity: 150, MinLot: 100, ValueEUR: 500}, false},
		{"zero quantity", ActionCandidate{Quantity: 0, MinLot: 1, ValueEUR: 500}, false},
		{"zero value", ActionCandidate{Quantity: 10, MinLot: 1, ValueEUR: 0}, false},
		{"missing lot defaults to one", ActionCandidate{Quantity: 7, MinLot: 0, ValueEUR: 100}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.c.IsValid())
		})
	}
}

func TestIsOrdered_DetectsSellAfterBuy(t *testing.T) {
	seq := ActionSequence{Actions: []ActionCandidate{
		buy("AAPL", 10, 1000),
		sell("MSFT", 5, 800),
	}}
	assert.False(t, seq.IsOrdered())
}

func TestSortCandidatesByPriority(t *testing.T) {
	candidates := []ActionCandidate{
		{Symbol: "B", Priority: 1.0},
		{Symbol: "A", Priority: 1.0},
		{Symbol: "C", Priority: 2.0},
	}
	SortCandidatesByPriority(candidates)

	assert.Equal(t, "C", candidates[0].Symbol)
	// Equal priority falls back to the symbol tiebreak.
	assert.Equal(t, "A", candidates[1].Symbol)
	assert.Equal(t, "B", candidates[2].Symbol)
}
