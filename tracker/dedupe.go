package tracker

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// dedupeKey computes the ingest-path dedupe key from spec §4.5 step 2:
// (time_bucket(created_at,5s), symbol, direction, round(entry,2),
// round(tp,2), round(sl,2)). Two candidate signals within the same 5s
// bucket for the same symbol/direction and near-identical prices collapse
// onto the same key, enforcing "exactly one active recommendation per
// dedupe key" (spec §3).
func dedupeKey(createdAt time.Time, symbol string, dir Direction, entry, tp, sl decimal.Decimal) string {
	bucket := createdAt.Unix() / 5
	return fmt.Sprintf("%d|%s|%s|%s|%s|%s", bucket, symbol, dir, round2(entry), round2tpsl(tp), round2tpsl(sl))
}

func round2(d decimal.Decimal) string {
	return d.Round(2).String()
}

// round2tpsl rounds an optional TP/SL value, rendering "-" for unset. An
// unset value arrives here as zero, so a signal that omits TP/SL and one
// that sets it to zero produce the same key component.
func round2tpsl(d decimal.Decimal) string {
	if d.IsZero() {
		return "-"
	}
	return d.Round(2).String()
}
