// Package offload implements the pure selection policy that decides which
// connected session, if any, is capable of performing a piece of work the
// server would otherwise do itself (thumbnail generation, local search).
//
// The policy has no locking and no transport dependency: it is a function
// of a task and a slice of candidate capability snapshots, which makes it
// trivially unit-testable independent of the session registry that calls
// it.
package offload

// TaskType enumerates the kinds of work that can be offloaded.
type TaskType string

const (
	TaskThumbnail TaskType = "thumbnail"
	TaskSearch    TaskType = "search"
)

// Task describes one unit of offloadable work.
type Task struct {
	Type TaskType
	Path string
	// Query is set for TaskSearch.
	Query string
}

// Capabilities is a client's self-reported resource and feature profile.
type Capabilities struct {
	CPUCores              int
	HasGPU                bool
	RAMFreeMB             int
	OnACPower             bool
	CanGenerateThumbnails bool
	CanSearchLocally      bool
	CanCompress           bool
}

const minFreeRAMMB = 500
const minCPUCoresForOffload = 4

// Qualifies reports whether caps satisfies every requirement for task: AC
// power, a free-RAM floor, and the task-specific capability flags.
func Qualifies(caps Capabilities, task Task) bool {
	if !caps.OnACPower {
		return false
	}
	if caps.RAMFreeMB < minFreeRAMMB {
		return false
	}
	switch task.Type {
	case TaskThumbnail:
		return caps.CanGenerateThumbnails && (caps.HasGPU || caps.CPUCores >= minCPUCoresForOffload)
	case TaskSearch:
		return caps.CanSearchLocally && caps.CPUCores >= minCPUCoresForOffload
	default:
		return false
	}
}

// Candidate pairs an opaque session identifier with its capability
// snapshot.
type Candidate struct {
	SessionID    string
	Capabilities Capabilities
}

// FindCandidate returns the session-id of any candidate that qualifies for
// task. Selection is order-insensitive: if multiple candidates qualify,
// any one of them may be returned. Returns ok=false if none qualify, in
// which case the caller should perform the work itself.
func FindCandidate(task Task, candidates []Candidate) (sessionID string, ok bool) {
	for _, c := range candidates {
		if Qualifies(c.Capabilities, task) {
			return c.SessionID, true
		}
	}
	return "", false
}
