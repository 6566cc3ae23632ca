package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/internal/config"
)

func oracleFor(t *testing.T, handler http.HandlerFunc) *Oracle {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOracle(config.Config{MarketBaseURL: srv.URL, MarketAPIKey: "test-token"})
}

func TestOracle_BatchRequestShape(t *testing.T) {
	t.Parallel()
	var gotPath, gotToken, gotExtra string
	o := oracleFor(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.URL.Query().Get("api_token")
		gotExtra = r.URL.Query().Get("s")
		_, _ = w.Write([]byte(`[{"code":"VTI","close":201.5},{"code":"BND","close":72.1},{"code":"VXUS","close":58.9}]`))
	})

	prices, err := o.LastPrices(context.Background(), []string{"VTI", "BND", "VXUS"})
	require.NoError(t, err)

	assert.Equal(t, "/real-time/VTI", gotPath)
	assert.Equal(t, "test-token", gotToken)
	assert.Equal(t, "BND,VXUS", gotExtra)
	assert.InDelta(t, 201.5, prices["VTI"], 0.001)
	assert.InDelta(t, 72.1, prices["BND"], 0.001)
	assert.InDelta(t, 58.9, prices["VXUS"], 0.001)
}

func TestOracle_SingleObjectResponse(t *testing.T) {
	t.Parallel()
	o := oracleFor(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"close":99.5}`)) // some providers omit code
	})

	prices, err := o.LastPrices(context.Background(), []string{"VTI"})
	require.NoError(t, err)
	assert.InDelta(t, 99.5, prices["VTI"], 0.001)
}

func TestOracle_StringPricesAndNA(t *testing.T) {
	t.Parallel()
	o := oracleFor(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"code":"VTI","close":"201.5"},{"code":"DELISTED","close":"NA"}]`))
	})

	prices, err := o.LastPrices(context.Background(), []string{"VTI", "DELISTED"})
	require.NoError(t, err)
	assert.InDelta(t, 201.5, prices["VTI"], 0.001)
	_, ok := prices["DELISTED"]
	assert.False(t, ok, "unpriced symbols are omitted, not zeroed")
}

func TestOracle_Non200Fails(t *testing.T) {
	t.Parallel()
	o := oracleFor(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "limit exceeded", http.StatusPaymentRequired)
	})

	_, err := o.LastPrices(context.Background(), []string{"VTI"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 402")
}

func TestOracle_EmptySymbolList(t *testing.T) {
	t.Parallel()
	o := oracleFor(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected for empty symbol list")
	})

	prices, err := o.LastPrices(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, prices)
}
