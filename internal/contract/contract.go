// Package contract holds the signal names and payload shapes shared by the
// backend and frontend processes.
package contract

// Signals sent by the frontend.
const (
	SelectedVideo    = "selectedVideo"
	AlterParam       = "alterParam"
	RequestParams    = "requestParams"
	RequestProgress  = "requestProgress"
	TestRun          = "testRun"
	StartProcess     = "startProcess"
	TerminateProcess = "terminateProcess"
)

// Signals sent by the backend. SelectedVideo is echoed back as well.
const (
	UpdateProgress   = "updateProgress"
	UpdateParam      = "updateParam"
	UpdateRuntimeImg = "updateRuntimeImg"
	ErrorOccurred    = "errorOccor"
)

// Task names reported in Progress.
const (
	TaskIdle        = "Idle"
	TaskChecking    = "Checking parameters..."
	TaskRunning     = "Running..."
	TaskDone        = "Done"
	TaskTerminating = "Terminating process..."
)

// Progress is the payload of UpdateProgress. A zero Total means the task
// has no measurable length.
type Progress struct {
	Task     string `json:"task"`
	Progress int    `json:"progress"`
	Total    int    `json:"total"`
}

// Finished reports whether p marks the end of a processing run.
func (p Progress) Finished() bool {
	return p.Task == TaskDone || p.Task == TaskIdle
}

// Param is the payload of UpdateParam. Values[0] is the current value; any
// further entries are the other allowed choices.
type Param struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Current returns the current value of the parameter.
func (p Param) Current() string {
	if len(p.Values) == 0 {
		return ""
	}
	return p.Values[0]
}
