package app

// Stage names the part of a run an event belongs to.
type Stage string

const (
	StageExtract Stage = "extract"
	StageRender  Stage = "render"
	StageRun     Stage = "run"
)

// Event statuses.
const (
	StatusStarted   = "started"
	StatusProcessed = "processed"
	StatusRendered  = "rendered"
	StatusSkipped   = "skipped"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Event reports progress of a run. Per-image events carry Filename; run
// lifecycle events use StageRun.
type Event struct {
	RunID    string `json:"run_id"`
	Stage    Stage  `json:"stage"`
	Filename string `json:"filename,omitempty"`
	Status   string `json:"status"`
	Hands    int    `json:"hands,omitempty"`
	Error    string `json:"error,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
