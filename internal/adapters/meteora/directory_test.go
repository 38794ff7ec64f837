package meteora

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pairsPayload = `[
	{"address":"P-expensive","name":"TOK-SOL","mint_x":"TOK","mint_y":"SOL","bin_step":100,"base_fee_percentage":"1.0"},
	{"address":"P-other","name":"FOO-SOL","mint_x":"FOO","mint_y":"SOL","bin_step":10,"base_fee_percentage":"0.01"},
	{"address":"P-cheap","name":"USDC-TOK","mint_x":"USDC","mint_y":"TOK","bin_step":10,"base_fee_percentage":"0.1"},
	{"address":"P-hidden","name":"TOK-SOL","mint_x":"TOK","mint_y":"SOL","bin_step":1,"base_fee_percentage":"0.001","hide":true},
	{"address":"P-bad","name":"TOK-X","mint_x":"TOK","mint_y":"X","bin_step":1,"base_fee_percentage":"n/a"}
]`

func TestFindPools_FilterAndSort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pair/all", r.URL.Path)
		w.Write([]byte(pairsPayload))
	}))
	defer srv.Close()

	d := NewDirectory(srv.URL, time.Minute)
	pools, err := d.FindPools(context.Background(), "TOK")
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, "P-cheap", pools[0].Address)
	assert.InDelta(t, 0.1, pools[0].BaseFeePercent, 1e-9)
	assert.Equal(t, "P-expensive", pools[1].Address)
	assert.Equal(t, 100, pools[1].BinStep)
}

func TestFindPools_NoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(pairsPayload))
	}))
	defer srv.Close()

	pools, err := NewDirectory(srv.URL, time.Minute).FindPools(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Empty(t, pools)
}

func TestFindPools_CachesListing(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(pairsPayload))
	}))
	defer srv.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewDirectory(srv.URL, time.Minute)
	d.now = func() time.Time { return now }

	_, err := d.FindPools(context.Background(), "TOK")
	require.NoError(t, err)
	_, err = d.FindPools(context.Background(), "FOO")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	now = now.Add(2 * time.Minute)
	_, err = d.FindPools(context.Background(), "TOK")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
