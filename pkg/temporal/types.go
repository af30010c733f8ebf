package temporal

import (
	"time"

	"go.temporal.io/sdk/client"
)

const DefaultNamespace = "zorro"

const QueueProfileSync = "profile-sync"

const ScheduleProfileSweep = "profile-sweep"

// Workflow ID patterns
const (
	WorkflowIDProfileSync = "profile-sync:%d"
	WorkflowIDManualSweep = "profile-sweep:manual"
)

// GetScheduleSpec returns a schedule spec for the given interval.
func GetScheduleSpec(interval time.Duration) client.ScheduleSpec {
	return client.ScheduleSpec{Intervals: []client.ScheduleIntervalSpec{{Every: interval}}}
}
