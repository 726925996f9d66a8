package market

import (
	"fmt"
	"time"
)

// InsufficientDataError reports that a rolling computation has not yet seen
// enough observations (burn-in) or that a rebalance date had fewer eligible
// candidates than required. Recoverable: callers skip the date and record it.
type InsufficientDataError struct {
	What string
	Date time.Time
	Need int
	Have int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s on %s: need %d, have %d",
		e.What, e.Date.Format("2006-01-02"), e.Need, e.Have)
}

// DataGapError reports a missing price or funding record for one asset on
// one simulated date. Recoverable: the asset is excluded for that date only.
type DataGapError struct {
	Asset string
	Date  time.Time
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("data gap for %s on %s", e.Asset, e.Date.Format("2006-01-02"))
}
