package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterPool(t *testing.T) {
	reg := prometheus.NewRegistry()
	snap := PoolSnapshot{Total: 5, Acquired: 2, Idle: 3, Max: 25}

	if err := RegisterPool(reg, "postgres", func() PoolSnapshot { return snap }); err != nil {
		t.Fatalf("RegisterPool() error = %v", err)
	}
	if err := RegisterPool(reg, "postgres", func() PoolSnapshot { return snap }); err == nil {
		t.Error("registering the same pool twice succeeded, want error")
	}

	want := `
# HELP mailsort_pool_connections_acquired Connections currently in use.
# TYPE mailsort_pool_connections_acquired gauge
mailsort_pool_connections_acquired{pool="postgres"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "mailsort_pool_connections_acquired"); err != nil {
		t.Error(err)
	}
}
