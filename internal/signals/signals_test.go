package signals

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestMemorySource_UpdateAndCopy(t *testing.T) {
	src := NewMemorySource()
	src.Update(Signal{Name: "TV-5m", Pair: "ETHBTC", Rating: f(0.3)})
	src.Update(Signal{Name: "TV-5m", Pair: "ETHBTC", Rating: f(0.5)})

	got := src.SignalsByPair("ETHBTC")
	require.Len(t, got, 1)
	assert.Equal(t, 0.5, *got["TV-5m"].Rating)

	delete(got, "TV-5m")
	assert.Len(t, src.SignalsByPair("ETHBTC"), 1, "callers get a copy")

	src.Remove("TV-5m", "ETHBTC")
	assert.Empty(t, src.SignalsByPair("ETHBTC"))
}

func TestMemorySource_GlobalRating(t *testing.T) {
	src := NewMemorySource("TV-5m", "TV-1h")
	assert.Nil(t, src.GlobalRating())

	src.Update(Signal{Name: "TV-5m", Pair: "ETHBTC", Rating: f(0.2)})
	src.Update(Signal{Name: "TV-5m", Pair: "LTCBTC", Rating: f(0.4)})
	src.Update(Signal{Name: "TV-1h", Pair: "ETHBTC", Rating: f(-0.1)})
	src.Update(Signal{Name: "Other", Pair: "ETHBTC", Rating: f(10)})

	got := src.GlobalRating()
	require.NotNil(t, got)
	// mean(TV-5m)=0.3, mean(TV-1h)=-0.1
	assert.InDelta(t, 0.1, *got, 1e-9)
}

func TestMemorySource_Pairs(t *testing.T) {
	src := NewMemorySource()
	src.Update(Signal{Name: "a", Pair: "LTCBTC"})
	src.Update(Signal{Name: "a", Pair: "ETHBTC"})
	assert.Equal(t, []string{"ETHBTC", "LTCBTC"}, src.Pairs())
}
