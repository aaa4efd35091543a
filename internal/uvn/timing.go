package uvn

import "time"

// Timing holds the durations derived from a TimingProfile: how long a peer
// may go silent before it's declared offline, how often hello/status
// samples are published, and the max delay before a triggerable background
// task (e.g. the reachability probe) must run even absent an explicit
// trigger.
type Timing struct {
	LivelinessLease time.Duration
	HelloInterval   time.Duration
	MaxTriggerDelay time.Duration
}

func timingFor(p TimingProfile) Timing {
	switch p {
	case TimingFast:
		return Timing{
			LivelinessLease: 5 * time.Second,
			HelloInterval:   1 * time.Second,
			MaxTriggerDelay: 2 * time.Second,
		}
	case TimingDefault, "":
		return Timing{
			LivelinessLease: 30 * time.Second,
			HelloInterval:   5 * time.Second,
			MaxTriggerDelay: 10 * time.Second,
		}
	default:
		// Unknown profiles fall back to default rather than erroring here.
		// `uno config uvn` rejects unknown --timing-profile values; Validate
		// does not check the profile, so a hand-edited document can reach
		// this branch.
		return timingFor(TimingDefault)
	}
}
