package yahoo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreRecommendation(t *testing.T) {
	tests := []struct {
		key  string
		want float64
	}{
		{"strongBuy", 1.0},
		{"buy", 0.8},
		{"hold", 0.5},
		{"sell", 0.2},
		{"strongSell", 0.0},
		{"STRONGBUY", 1.0}, // case-insensitive
		{"underperform", 0.5},
		{"", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, scoreRecommendation(tt.key))
		})
	}
}

func TestBrokerToYahoo(t *testing.T) {
	assert.Equal(t, "AAPL", brokerToYahoo("AAPL.US"))
	assert.Equal(t, "7203.T", brokerToYahoo("7203.JP"))
	assert.Equal(t, "OPAP.AT", brokerToYahoo("OPAP.GR"))
	assert.Equal(t, "ASML.EU", brokerToYahoo("ASML.EU"))
	assert.Equal(t, "AAPL", brokerToYahoo("aapl.us"))
}
