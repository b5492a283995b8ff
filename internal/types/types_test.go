package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssetCollection_Find(t *testing.T) {
	c := AssetCollection{
		{ID: 3, Name: "deed"},
		nil,
		{ID: 7, Name: "car"},
	}

	t.Run("finds present asset", func(t *testing.T) {
		a, ok := c.Find(7)
		assert.True(t, ok)
		assert.Equal(t, "car", a.Name)
	})

	t.Run("missing asset", func(t *testing.T) {
		a, ok := c.Find(42)
		assert.False(t, ok)
		assert.Nil(t, a)
	})

	t.Run("empty collection", func(t *testing.T) {
		_, ok := AssetCollection(nil).Find(1)
		assert.False(t, ok)
	})
}
