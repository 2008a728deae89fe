package selection

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-dashboard-go/market"
)

func order(id string, k market.InstrumentKey) OrderRef {
	return OrderRef{OrderID: id, Instrument: k, CreatedAt: time.Unix(1700000000, 0), Price: 100}
}

func TestInitialSelection(t *testing.T) {
	c := NewController("BTC/USD")
	s := c.Current()
	assert.Equal(t, market.InstrumentKey("BTC/USD"), s.Instrument)
	assert.Nil(t, s.Order)
	assert.Nil(t, s.Article)

	assert.True(t, NewController(market.NoInstrument).Current().Instrument.IsZero())
}

func TestSelectOrderJumpsInstrument(t *testing.T) {
	c := NewController("BTC/USD")
	s, changed := c.SelectOrder(order("7", "ETH/USD"))
	require.True(t, changed)
	assert.Equal(t, market.InstrumentKey("ETH/USD"), s.Instrument)
	require.NotNil(t, s.Order)
	assert.Equal(t, "7", s.Order.OrderID)
}

func TestSelectOrderToggle(t *testing.T) {
	c := NewController("BTC/USD")
	ref := order("1", "BTC/USD")
	s, _ := c.SelectOrder(ref)
	require.NotNil(t, s.Order)

	s, changed := c.SelectOrder(ref)
	assert.True(t, changed)
	assert.Nil(t, s.Order)
	assert.Equal(t, market.InstrumentKey("BTC/USD"), s.Instrument)
}

func TestSelectOrderReplacesOther(t *testing.T) {
	c := NewController("BTC/USD")
	c.SelectOrder(order("1", "BTC/USD"))
	s, changed := c.SelectOrder(order("2", "BTC/USD"))
	assert.True(t, changed)
	assert.Equal(t, "2", s.Order.OrderID)
}

func TestSelectInstrumentClearsForeignOrder(t *testing.T) {
	c := NewController("BTC/USD")
	c.SelectOrder(order("1", "BTC/USD"))
	c.SelectArticle(&ArticleRef{ID: "a1"})

	s, changed := c.SelectInstrument("ETH/USD")
	assert.True(t, changed)
	assert.Nil(t, s.Order)
	require.NotNil(t, s.Article)
	assert.Equal(t, "a1", s.Article.ID)

	// 同一标的不清除订单
	c.SelectOrder(order("3", "ETH/USD"))
	s, changed = c.SelectInstrument("ETH/USD")
	assert.False(t, changed)
	assert.NotNil(t, s.Order)
}

func TestSelectInstrumentEmptyClearsOrder(t *testing.T) {
	c := NewController("BTC/USD")
	c.SelectOrder(order("1", "BTC/USD"))
	s, _ := c.SelectInstrument(market.NoInstrument)
	assert.True(t, s.Instrument.IsZero())
	assert.Nil(t, s.Order)
}

func TestSelectArticle(t *testing.T) {
	c := NewController("BTC/USD")
	c.SelectOrder(order("1", "BTC/USD"))
	s, changed := c.SelectArticle(&ArticleRef{ID: "n1", PublishedAt: time.Unix(10, 0)})
	assert.True(t, changed)
	assert.NotNil(t, s.Order)
	assert.Equal(t, "n1", s.Article.ID)

	_, changed = c.SelectArticle(&ArticleRef{ID: "n1", PublishedAt: time.Unix(10, 0)})
	assert.False(t, changed)

	s, changed = c.SelectArticle(nil)
	assert.True(t, changed)
	assert.Nil(t, s.Article)
}

func TestClearOrderAndFocus(t *testing.T) {
	c := NewController("BTC/USD")
	_, changed := c.ClearOrder()
	assert.False(t, changed)

	c.SelectOrder(order("1", "BTC/USD"))
	s, changed := c.ClearOrder()
	assert.True(t, changed)
	assert.Nil(t, s.Order)

	c.SelectOrder(order("2", "BTC/USD"))
	s, changed = c.FocusInstrument("BTC/USD")
	assert.True(t, changed)
	assert.Nil(t, s.Order)
	assert.Equal(t, market.InstrumentKey("BTC/USD"), s.Instrument)
}

func TestCurrentIsCopy(t *testing.T) {
	c := NewController("BTC/USD")
	c.SelectOrder(order("1", "BTC/USD"))
	s := c.Current()
	s.Order.Instrument = "XRP/USD"
	assert.Equal(t, market.InstrumentKey("BTC/USD"), c.Current().Order.Instrument)
}

// 任意操作序列之后，跨轴约束始终成立。
func TestInvariantHoldsUnderRandomOps(t *testing.T) {
	instruments := []market.InstrumentKey{"", "BTC/USD", "ETH/USD", "SOL/USD"}
	rng := rand.New(rand.NewSource(42))
	c := NewController("BTC/USD")
	for i := 0; i < 5000; i++ {
		k := instruments[rng.Intn(len(instruments))]
		var s Selection
		switch rng.Intn(5) {
		case 0:
			s, _ = c.SelectInstrument(k)
		case 1:
			if k.IsZero() {
				k = "BTC/USD"
			}
			ref := order(string(rune('a'+rng.Intn(4))), k)
			prev := c.Current()
			s, _ = c.SelectOrder(ref)
			if prev.Order == nil || prev.Order.OrderID != ref.OrderID {
				if s.Instrument != ref.Instrument || s.Order == nil || s.Order.OrderID != ref.OrderID {
					t.Fatalf("step %d: order selection did not focus %+v -> %+v", i, ref, s)
				}
			} else if s.Order != nil {
				t.Fatalf("step %d: toggle did not clear order", i)
			}
		case 2:
			s, _ = c.SelectArticle(&ArticleRef{ID: string(k)})
		case 3:
			s, _ = c.ClearOrder()
		case 4:
			s, _ = c.FocusInstrument(k)
		}
		if !s.Valid() {
			t.Fatalf("step %d: invalid selection %+v", i, s)
		}
	}
}
