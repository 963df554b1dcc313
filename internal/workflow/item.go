package workflow

import "fmt"

// WorkItem is a snapshot of one queued image. Snapshots are values; the
// engine never mutates one after handing it out.
type WorkItem struct {
	ID          int
	SourcePath  string
	DisplayName string
	State       State
}

func (w WorkItem) Status() Status {
	if w.State == nil {
		return StatusWaiting
	}
	return w.State.Status()
}

// UploadProgress is the sent fraction while uploading and 0 otherwise.
func (w WorkItem) UploadProgress() float64 {
	if s, ok := w.State.(Uploading); ok {
		return s.Progress
	}
	return 0
}

// ResultURL is set once the service has returned a downloadable result.
func (w WorkItem) ResultURL() (string, bool) {
	switch s := w.State.(type) {
	case Downloading:
		return s.ResultURL, true
	case Complete:
		return s.ResultURL, true
	}
	return "", false
}

// SavingsRatio is the service-reported ratio, present once Complete.
func (w WorkItem) SavingsRatio() (float64, bool) {
	if s, ok := w.State.(Complete); ok {
		return s.SavingsRatio, true
	}
	return 0, false
}

// ErrorDetail is the human-readable failure cause, present only in Error.
func (w WorkItem) ErrorDetail() (string, bool) {
	if s, ok := w.State.(Failed); ok {
		if s.Err == nil || s.Err.Message == "" {
			return "Unknown error", true
		}
		return s.Err.Message, true
	}
	return "", false
}

// StatusLine renders the item state for display.
func (w WorkItem) StatusLine() string {
	switch s := w.State.(type) {
	case Started:
		return "Started"
	case Uploading:
		return fmt.Sprintf("Uploading: %.2f%%", s.Progress*100)
	case Downloading:
		return "Downloading"
	case Complete:
		return fmt.Sprintf("Complete: Savings of %.2f%%", (1-s.SavingsRatio)*100)
	case Failed:
		detail, _ := w.ErrorDetail()
		return "Error: " + detail
	default:
		return "Waiting"
	}
}
