package features

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"altfade/internal/market"
)

func TestCache_ReplaysEngineOutcomes(t *testing.T) {
	uni := testUniverse()
	panel := syntheticPanel(140)

	cache := NewCache(NewEngine(DefaultConfig(), uni), panel)
	fresh := NewEngine(DefaultConfig(), uni)

	for i := 0; i < panel.Len(); i++ {
		want, wantErr := fresh.Compute(panel, i)
		got, gotErr := cache.Compute(panel, i)
		if wantErr != nil {
			var ins *market.InsufficientDataError
			require.Error(t, gotErr, "index %d", i)
			assert.True(t, errors.As(gotErr, &ins), "index %d", i)
			continue
		}
		require.NoError(t, gotErr, "index %d", i)
		assert.Equal(t, want, got, "index %d", i)
	}
}

func TestCache_RejectsForeignPanelAndBadIndex(t *testing.T) {
	uni := testUniverse()
	panel := syntheticPanel(140)
	other := syntheticPanel(140)

	cache := NewCache(NewEngine(DefaultConfig(), uni), panel)

	_, err := cache.Compute(other, 0)
	assert.Error(t, err)
	_, err = cache.Compute(panel, panel.Len())
	assert.Error(t, err)
	_, err = cache.Compute(panel, -1)
	assert.Error(t, err)
}
