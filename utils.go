package tcc

import (
	"github.com/couchbase/gocbcore/v9/memd"
	"github.com/pkg/errors"
)

type durabilityInfo struct {
	level     DurabilityLevel
	shorthand string
	memd      memd.DurabilityLevel
}

var durabilityLevels = []durabilityInfo{
	{DurabilityLevelNone, "n", memd.DurabilityLevel(0)},
	{DurabilityLevelMajority, "m", memd.DurabilityLevelMajority},
	{DurabilityLevelMajorityAndPersistToActive, "pa", memd.DurabilityLevelMajorityAndPersistOnMaster},
	{DurabilityLevelPersistToMajority, "pm", memd.DurabilityLevelPersistToMajority},
}

func lookupDurability(level DurabilityLevel) (durabilityInfo, bool) {
	for _, info := range durabilityLevels {
		if info.level == level {
			return info, true
		}
	}
	return durabilityInfo{}, false
}

// durabilityLevelToMemd panics on a level that was never resolved, records
// must not be written with an unset level.
func durabilityLevelToMemd(level DurabilityLevel) memd.DurabilityLevel {
	info, ok := lookupDurability(level)
	if !ok {
		panic("unexpected durability level")
	}
	return info.memd
}

// ParseDurabilityLevel parses the shorthand form of a durability level:
// "n", "m", "pa" or "pm".  An empty string selects majority.
func ParseDurabilityLevel(shorthand string) (DurabilityLevel, error) {
	if shorthand == "" {
		return DurabilityLevelMajority, nil
	}
	for _, info := range durabilityLevels {
		if info.shorthand == shorthand {
			return info.level, nil
		}
	}
	return DurabilityLevelUnknown, errors.Errorf("invalid durability level %q", shorthand)
}

// String returns the shorthand form.  Unknown levels print as majority,
// which is what they resolve to.
func (dl DurabilityLevel) String() string {
	if info, ok := lookupDurability(dl); ok {
		return info.shorthand
	}
	return "m"
}
