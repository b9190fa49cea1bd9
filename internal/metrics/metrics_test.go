package metrics_test

import (
	"context"
	"testing"

	"github.com/kbengine/kbengine/internal/metrics"
)

// These calls don't assert on emitted values (the noop meter discards
// them); the point is that a Recorder wired to NewNoop never panics, the
// same guarantee the engine relies on for every one-shot CLI invocation
// that never configures a real exporter.
func TestNewNoop_EveryRecorderMethodIsSafeToCall(t *testing.T) {
	r := metrics.NewNoop()
	ctx := context.Background()

	r.ExportDuration(ctx, 1.23, "Full")
	r.ImportConflicts(ctx, 3)
	r.ImportConflicts(ctx, 0)
	r.LANRequest(ctx, "/export", 200)
	r.MergeDecision(ctx, "Problem", "Imported")
	r.BusyRetry(ctx, "upsert problem")
}
