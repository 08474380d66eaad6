package collectors

import "math"

// Delta computes max(0, current-previous), the counter-wraparound-safe
// subtraction required by §4.6.2.
func Delta(current, previous uint64) uint64 {
	if current < previous {
		return 0
	}
	return current - previous
}

// BandwidthResult holds the derived fields of §4.6.2, each nil when the
// inputs make the field undefined.
type BandwidthResult struct {
	Bps             *float64
	Mbps            *float64
	UtilizationPct  *float64
}

// Bandwidth computes bytes-per-second, megabits-per-second and link
// utilisation percentage for a byte delta observed over timeDeltaSeconds
// on a link of speedMbps capacity. timeDeltaSeconds <= 0 yields all-nil
// (§4.6.2: "if ≤ 0, all derived bandwidth fields are null"); speedMbps <=
// 0 yields a nil utilisation only.
func Bandwidth(byteDelta uint64, timeDeltaSeconds, speedMbps float64) BandwidthResult {
	if timeDeltaSeconds <= 0 {
		return BandwidthResult{}
	}

	bps := float64(byteDelta) / timeDeltaSeconds
	mbps := roundTo(bps*8/1_000_000, 2)
	result := BandwidthResult{
		Bps:  finitePtr(roundTo(bps, 0)),
		Mbps: finitePtr(mbps),
	}

	if speedMbps > 0 {
		pct := (float64(byteDelta) * 8) / (speedMbps * 1_000_000 * timeDeltaSeconds) * 100
		result.UtilizationPct = finitePtr(roundTo(pct, 2))
	}
	return result
}

// finitePtr returns a pointer to v, or nil if v is NaN or infinite
// (§4.6.2: "Any computation yielding NaN or Infinity is stored as
// null").
func finitePtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func roundTo(v float64, places int) float64 {
	mult := math.Pow(10, float64(places))
	return math.Round(v*mult) / mult
}
