package http

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"gonum.org/v1/gonum/stat"
)

// Stats reports registry state plus the duration distribution of recently
// finalized traces.
func (h *Handlers) Stats(c *gin.Context) {
	s := h.registry.Stats()

	c.JSON(http.StatusOK, gin.H{
		"traces": gin.H{
			"active":    s.Active,
			"completed": s.Completed,
			"finalized": s.Finalized,
		},
		"durations_ms": durationQuantiles(s.Durations),
	})
}

// durationQuantiles computes p50/p90/p99 over the finalized-duration sample.
func durationQuantiles(durs []float64) gin.H {
	if len(durs) == 0 {
		return gin.H{"samples": 0}
	}

	sorted := make([]float64, len(durs))
	copy(sorted, durs)
	sort.Float64s(sorted)

	return gin.H{
		"samples": len(sorted),
		"p50":     stat.Quantile(0.50, stat.Empirical, sorted, nil),
		"p90":     stat.Quantile(0.90, stat.Empirical, sorted, nil),
		"p99":     stat.Quantile(0.99, stat.Empirical, sorted, nil),
	}
}
