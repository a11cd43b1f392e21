package manager

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/BaSui01/hunyuan3d/remote"
)

// State is the lifecycle state of a task.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateTexturing  State = "texturing"
	StateConverting State = "converting"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// transitions lists the legal successor states. Terminal states have none.
var transitions = map[State][]State{
	StatePending:    {StateProcessing, StateTexturing, StateConverting, StateFailed},
	StateProcessing: {StateProcessing, StateTexturing, StateConverting, StateFailed},
	StateTexturing:  {StateProcessing, StateTexturing, StateConverting, StateFailed},
	StateConverting: {StateCompleted, StateFailed},
}

// IsActive reports whether the task is still tracked by the poller or
// the conversion step.
func (s State) IsActive() bool {
	switch s {
	case StatePending, StateProcessing, StateTexturing, StateConverting:
		return true
	}
	return false
}

// IsTerminal reports whether s is Completed or Failed.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransitionTo reports whether to is a legal successor of s.
func (s State) CanTransitionTo(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ProgressSink receives human-readable progress messages.
type ProgressSink func(taskID, message string)

// CompletionSink receives the final outcome. On success message is the
// output path, otherwise the error text.
type CompletionSink func(taskID string, success bool, message string)

// TaskInfo is a point-in-time snapshot of a task.
type TaskInfo struct {
	ID           string        `json:"task_id"`
	InputPath    string        `json:"input_path"`
	OutputPath   string        `json:"output_path"`
	Endpoint     string        `json:"endpoint"`
	Params       remote.Params `json:"params"`
	State        State         `json:"state"`
	Message      string        `json:"message,omitempty"`
	Progress     float64       `json:"progress,omitempty"`
	ScratchDir   string        `json:"scratch_dir,omitempty"`
	ArtifactPath string        `json:"artifact_path,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// task is the registry entry: the snapshot plus the caller's sinks.
type task struct {
	info       TaskInfo
	progress   ProgressSink
	completion CompletionSink
}

// SubmitRequest describes one generation job.
type SubmitRequest struct {
	InputPath string
	// OutputPath defaults to <input dir>/<input base>_hunyuan3d.usd.
	OutputPath string
	// Params nil means remote.DefaultParams().
	Params *remote.Params
	// Endpoint overrides the manager's default endpoint for this task only.
	Endpoint   string
	OnProgress ProgressSink
	OnComplete CompletionSink
}

// DeriveOutputPath returns the default output location for an input image.
func DeriveOutputPath(inputPath string) string {
	dir := filepath.Dir(inputPath)
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	return filepath.Join(dir, base+"_hunyuan3d.usd")
}

// artifactName maps a remote uid onto a safe file name.
func artifactName(taskID string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, taskID) + ".glb"
}
