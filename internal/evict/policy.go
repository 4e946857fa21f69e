package evict

import (
	"fmt"
	"math"
	"time"
)

// Policy scales the idle-age cutoff with the number of loaded tabs. At
// TargetCount tabs the cutoff is TargetAge; it approaches zero as the count
// grows and is unbounded at or below MinKeep.
type Policy struct {
	MinKeep     int
	TargetCount int
	TargetAge   time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MinKeep:     10,
		TargetCount: 50,
		TargetAge:   10 * time.Minute,
	}
}

// Validate rejects policies whose cutoff would be negative or whose scan
// interval would not be positive.
func (p Policy) Validate() error {
	if p.MinKeep < 0 {
		return fmt.Errorf("min keep must not be negative, got %d", p.MinKeep)
	}
	if p.TargetCount <= p.MinKeep {
		return fmt.Errorf("target tab count %d must exceed min keep %d", p.TargetCount, p.MinKeep)
	}
	if p.TargetAge <= 0 {
		return fmt.Errorf("target age must be positive, got %v", p.TargetAge)
	}
	return nil
}

// Cutoff returns the maximum idle age allowed with tabCount loaded tabs.
// bounded is false when tabCount is at or below MinKeep.
func (p Policy) Cutoff(tabCount int) (cutoff time.Duration, bounded bool) {
	if tabCount <= p.MinKeep {
		return time.Duration(math.MaxInt64), false
	}
	span := int64(p.TargetCount - p.MinKeep)
	return time.Duration(span * int64(p.TargetAge) / int64(tabCount-p.MinKeep)), true
}

// Interval is how often the scheduler scans for idle tabs.
func (p Policy) Interval() time.Duration {
	if interval := p.TargetAge / 4; interval > 0 {
		return interval
	}
	return p.TargetAge
}
