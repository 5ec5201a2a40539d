package observability

import (
	"strings"
	"testing"
	"time"

	"github.com/danmuck/wlcore/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("GET", "/health", 200, 12*time.Millisecond)
	before := value(t, messages.WithLabelValues("server", "in", "test_global"))
	RecordMessage("server", "in", "test_global")
	if got := value(t, messages.WithLabelValues("server", "in", "test_global")); got != before+1 {
		t.Fatalf("messages got=%v want=%v", got, before+1)
	}
	RecordZombieDrop("client")
	RecordProtocolError("server", "invalid_object")
	RecordRegistryEvent("global", true)

	SetClients(3)
	if got := value(t, clients); got != 3 {
		t.Fatalf("clients gauge=%v", got)
	}

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var found bool
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "wlcore_registry_events_total") {
			found = true
		}
	}
	if !found {
		t.Fatalf("registry metric not registered")
	}
}
