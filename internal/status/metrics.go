package status

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// RunMetrics logs bridge stats every interval until ctx is cancelled. Nothing
// is logged for intervals in which no block was captured or played.
func RunMetrics(ctx context.Context, src Source, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := src.Stats()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := src.Stats()
			captured := st.Captured - prev.Captured
			processed := st.Processed - prev.Processed
			if captured == 0 && processed == 0 && st.Replayed == prev.Replayed {
				continue
			}
			logrus.WithFields(logrus.Fields{
				"function":        "RunMetrics",
				"captured":        captured,
				"processed":       processed,
				"dropped":         st.Dropped - prev.Dropped,
				"replayed":        st.Replayed - prev.Replayed,
				"silenced":        st.Silenced - prev.Silenced,
				"deadline_misses": st.DeadlineMisses - prev.DeadlineMisses,
				"repaired":        st.Repaired - prev.Repaired,
				"iterations":      st.LastIterations,
				"elapsed_ms":      st.LastElapsedMS,
				"deadline_ms":     st.DeadlineMS,
				"input_dbfs":      st.InputDBFS,
				"output_dbfs":     st.OutputDBFS,
			}).Info("Denoiser metrics")
			prev = st
		}
	}
}
