package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProduct(t *testing.T) {
	p, ok := Product("credit_50")
	require.True(t, ok)
	assert.Equal(t, int64(55), p.TotalCredits(), "total includes the bonus")

	_, ok = Product("credit_9000")
	assert.False(t, ok)
}

func TestProductsOrderedByPrice(t *testing.T) {
	products := Products()
	require.Len(t, products, 4)
	for i := 1; i < len(products); i++ {
		assert.LessOrEqual(t, products[i-1].Price, products[i].Price)
	}
}

func TestActionCost(t *testing.T) {
	c, ok := ActionCost("tarot_draw")
	require.True(t, ok)
	assert.Equal(t, int64(1), c)

	_, ok = ActionCost("palm_reading")
	assert.False(t, ok)
}

func TestActionCostsReturnsCopy(t *testing.T) {
	m := ActionCosts()
	m["tarot_draw"] = 999

	c, _ := ActionCost("tarot_draw")
	assert.Equal(t, int64(1), c, "mutating the copy must not touch the table")
}
