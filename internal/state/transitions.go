package state

// transitions lists the statuses reachable from each status. A status may
// always move to itself.
var transitions = map[Status][]Status{
	"":                  {StatusRunning},
	StatusRunning:       {StatusComplete, StatusMaxIterations, StatusFailed, StatusStopped, StatusStale},
	StatusStale:         {StatusRunning},
	StatusStopped:       {StatusRunning},
	StatusFailed:        {StatusRunning},
	StatusMaxIterations: {StatusRunning},
	StatusComplete:      {},
}

// CanTransition reports whether a session may move from one status to another.
func CanTransition(from, to Status) bool {
	if from == to && from != "" {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Resumable reports whether a session in status s can be resumed.
func Resumable(s Status) bool {
	return s != StatusRunning && CanTransition(s, StatusRunning)
}
