package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_UsesNoopProviderByDefault(t *testing.T) {
	i, err := New()
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		ctx := context.Background()
		i.Fetch(ctx, "f_persone_f_luoghi", 120*time.Millisecond, 42, nil)
		i.Fetch(ctx, "f_persone_f_luoghi", time.Second, 0, errors.New("boom"))
		i.Export(ctx, "csv", "all", nil)
		i.Export(ctx, "geojson", "visible", errors.New("boom"))
		i.Fallback(ctx, "json")
	})
}

func TestNilInstrumentsAreSafe(t *testing.T) {
	var i *Instruments
	assert.NotPanics(t, func() {
		i.Fetch(context.Background(), "t", 0, 0, nil)
		i.Export(context.Background(), "csv", "all", nil)
		i.Fallback(context.Background(), "csv")
	})
}
