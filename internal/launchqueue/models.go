package launchqueue

import (
	"fmt"
	"time"
)

// Status is the persisted state of a queue row.
type Status int

const (
	StatusPending Status = 0
	// StatusRunning is written only by external workers.
	StatusRunning Status = 1
	StatusError   Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// unknownError is reported for failed rows that carry no message.
const unknownError = "Unknown error"

// Entry is one launch request.
type Entry struct {
	Ordinal   int64
	UDID      string
	IP        string
	BundleID  string
	Status    Status
	Error     string
	CreatedAt time.Time
}

// Kind classifies a Status result.
type Kind int

const (
	NotInQueue Kind = iota
	Position
	Failed
)

func (k Kind) String() string {
	switch k {
	case Position:
		return "position"
	case Failed:
		return "failed"
	default:
		return "not_in_queue"
	}
}

// Info is the queue state of one device.
type Info struct {
	Kind     Kind
	Position int
	Message  string
}

// Stats summarizes the queue by status.
type Stats struct {
	Pending int
	Running int
	Failed  int
}

// Total returns the number of rows.
func (s Stats) Total() int { return s.Pending + s.Running + s.Failed }
