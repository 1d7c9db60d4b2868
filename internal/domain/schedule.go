package domain

import "time"

// SchedulePattern aggregates operator activity into one (weekday, hour)
// probability cell. Used only for idle-window forecasting; it never gates
// admission.
type SchedulePattern struct {
	DayOfWeek           int // 0=Monday
	Hour                int
	ActivityProbability float64
	AvgUsage            float64
	SampleCount         int
}

// ActivitySession is one contiguous span of operator interaction.
type ActivitySession struct {
	ID           string
	StartTime    time.Time
	EndTime      *time.Time
	MessageCount int
}
