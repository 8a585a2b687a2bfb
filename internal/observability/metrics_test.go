package observability

import (
	"testing"
	"time"

	"github.com/danmuck/presencectl/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog/log"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("GET", "/status", 200, 12*time.Millisecond)
	RecordFrameSent("message")
	RecordFrameReceived("ping")
	RecordFrameDropped("unknown_event")
	RecordConnectAttempt("refused")
	RecordEvent("READY")

	before := testutil.ToFloat64(presenceFlushes.WithLabelValues("sent"))
	RecordPresenceFlush("sent")
	if got := testutil.ToFloat64(presenceFlushes.WithLabelValues("sent")); got != before+1 {
		t.Fatalf("flush counter: got=%v want=%v", got, before+1)
	}

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "presencectl_ipc_frames_sent_total" {
			found = true
		}
	}
	if !found {
		t.Fatalf("frames_sent metric not registered")
	}

	log.Info().Msg("observability/metrics: registration idempotent and recording paths executed")
}
