package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"}, {301, "3xx"}, {404, "4xx"}, {500, "5xx"}, {100, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusLabel(tt.code), "code %d", tt.code)
	}
}

func TestObserveSync(t *testing.T) {
	before := testutil.ToFloat64(SyncOperations.WithLabelValues("test-op", "error"))
	ObserveSync("test-op", time.Now(), errors.New("boom"))
	after := testutil.ToFloat64(SyncOperations.WithLabelValues("test-op", "error"))
	assert.Equal(t, before+1, after)
}

func TestObserveWrite(t *testing.T) {
	before := testutil.ToFloat64(CacheWrites.WithLabelValues("test_table", "ok"))
	ObserveWrite("test_table", nil)
	assert.Equal(t, before+1, testutil.ToFloat64(CacheWrites.WithLabelValues("test_table", "ok")))
}
