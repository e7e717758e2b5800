package types

import "time"

type StatusType int32

const (
	None       StatusType = 0
	Pending    StatusType = 1
	Running    StatusType = 2
	Paused     StatusType = 3
	Resuming   StatusType = 4
	Failed     StatusType = 5
	Terminated StatusType = 9
	Finished   StatusType = 10
)

func (s StatusType) String() string {
	switch s {
	case None:
		return "none"
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Resuming:
		return "resuming"
	case Failed:
		return "failed"
	case Terminated:
		return "terminated"
	case Finished:
		return "finished"
	}
	return "unknown"
}

// NodeTraceRecord is what the engine keeps about one node execution.
type NodeTraceRecord struct {
	// Path holds the ids of the enclosing composite nodes
	Path      []string
	NodeID    string
	NodeName  string
	Level     int
	StartTime time.Time
	EndTime   time.Time
	Error     string
	Input     Data
	Output    Data
}

type RequestStatus struct {
	RequestID   string
	GraphID     string
	Status      StatusType
	CurrentNode string
	LastError   string

	LastNodeRecord *NodeTraceRecord
}
