package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/tokensieve/internal/domain"
)

func TestMetrics(t *testing.T) {
	m := New()

	v := domain.NewVerdict(domain.Token{Address: common.HexToAddress("0x01")}, common.Address{}, common.Address{})
	v.Flag(domain.ReasonSellTax)
	v.Complete()
	m.ObserveVerdict(*v)
	m.ObserveVerdict(*v)

	safe := domain.NewVerdict(domain.Token{Address: common.HexToAddress("0x02")}, common.Address{}, common.Address{})
	safe.Complete()
	m.ObserveVerdict(*safe)

	m.ObserveStage(domain.StageBuyProbed, 20*time.Millisecond)
	m.SlotLookup("found")
	m.SlotLookup("not_found")
	m.SlotLookup("found")
	m.PoolsLoaded.Set(12)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Verdicts.WithLabelValues("honeypot", "sell tax")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Verdicts.WithLabelValues("safe", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SlotLookups.WithLabelValues("found")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tokensieve_slot_lookups_total{outcome="not_found"} 1`)
	assert.Contains(t, string(body), `tokensieve_stage_duration_seconds_count{stage="buy_probed"} 1`)
	assert.Contains(t, string(body), "tokensieve_pools_loaded 12")
}
