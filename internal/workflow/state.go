package workflow

import (
	"fmt"

	"tinypng/internal/failure"
)

// Status names the lifecycle stage of a work item.
type Status string

const (
	StatusWaiting     Status = "waiting"
	StatusStarted     Status = "started"
	StatusUploading   Status = "uploading"
	StatusDownloading Status = "downloading"
	StatusComplete    Status = "complete"
	StatusError       Status = "error"
)

// IsTerminal reports whether no further transitions can happen.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusError
}

// IsInFlight reports whether a network task is running for the item.
func (s Status) IsInFlight() bool {
	return s == StatusStarted || s == StatusUploading || s == StatusDownloading
}

// State is one of Waiting, Started, Uploading, Downloading, Complete or
// Failed. Each variant carries only the data valid in that stage.
type State interface {
	Status() Status
	isState()
}

// Waiting items are queued until capacity frees up.
type Waiting struct{}

// Started items were admitted and are about to upload.
type Started struct{}

// Uploading items are streaming their bytes to the service.
type Uploading struct {
	// Progress is the fraction of bytes sent, in [0,1].
	Progress float64
}

// Downloading items have a result on the service and are fetching it.
type Downloading struct {
	ResultURL    string
	SavingsRatio float64
}

// Complete items were replaced on disk by their compressed result.
type Complete struct {
	ResultURL    string
	SavingsRatio float64
	BytesBefore  int64
	BytesAfter   int64
}

// Failed is the Error state.
type Failed struct {
	Err *failure.Error
}

func (Waiting) Status() Status     { return StatusWaiting }
func (Started) Status() Status     { return StatusStarted }
func (Uploading) Status() Status   { return StatusUploading }
func (Downloading) Status() Status { return StatusDownloading }
func (Complete) Status() Status    { return StatusComplete }
func (Failed) Status() Status      { return StatusError }

func (Waiting) isState()     {}
func (Started) isState()     {}
func (Uploading) isState()   {}
func (Downloading) isState() {}
func (Complete) isState()    {}
func (Failed) isState()      {}

// validTransitions lists the forward edges of the item lifecycle.
// Uploading -> Uploading is a progress update.
var validTransitions = map[Status][]Status{
	StatusWaiting:     {StatusStarted, StatusError},
	StatusStarted:     {StatusUploading, StatusError},
	StatusUploading:   {StatusUploading, StatusDownloading, StatusError},
	StatusDownloading: {StatusComplete, StatusError},
}

// CanTransition reports whether an item may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error for edges outside the lifecycle.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}
