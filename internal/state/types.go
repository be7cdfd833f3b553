// Package state persists pipeline runs and loop sessions as JSON on disk.
package state

import "time"

// RunStatus is the lifecycle status of a pipeline run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunPartial   RunStatus = "partial"
	RunAborted   RunStatus = "aborted"
)

// Terminal reports whether a run status is final.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunPartial || s == RunAborted
}

// StageStatus is the lifecycle status of a single stage execution.
type StageStatus string

const (
	StageRunning StageStatus = "running"
	StageSuccess StageStatus = "success"
	StageFailed  StageStatus = "failed"
	StageSkipped StageStatus = "skipped"
)

// Stable error codes recorded on StageError.Code.
const (
	CodeTimeout        = "TIMEOUT"
	CodeAborted        = "ABORTED"
	CodeRuntime        = "RUNTIME"
	CodeInitialization = "INITIALIZATION"
	CodeValidation     = "VALIDATION"
	CodeEnvironment    = "ENVIRONMENT"
)

// Trigger records what started a run.
type Trigger struct {
	Kind          string    `json:"kind"` // manual, pre-commit, post-commit, pre-push, post-merge
	InitialCommit string    `json:"initial_commit"`
	StartedAt     time.Time `json:"started_at"`
}

// Artifacts collects the run-level outputs of a pipeline.
type Artifacts struct {
	InitialCommit string        `json:"initial_commit"`
	FinalCommit   string        `json:"final_commit,omitempty"`
	ChangedFiles  []string      `json:"changed_files"`
	TotalDuration time.Duration `json:"total_duration"`
	HandoverDir   string        `json:"handover_dir"`
	WorktreePath  string        `json:"worktree_path,omitempty"`
}

// StageError describes why a stage failed.
type StageError struct {
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// TokenUsage is reported by runtimes that support token tracking.
type TokenUsage struct {
	EstimatedInput int `json:"estimated_input"`
	ActualInput    int `json:"actual_input"`
	Output         int `json:"output"`
	CacheRead      int `json:"cache_read,omitempty"`
}

// StageExecution is one stage's record within a run. It is created before
// dispatch, mutated only by the stage executor while running, and frozen once
// it reaches a terminal status.
type StageExecution struct {
	StageName          string        `json:"stage_name"`
	Status             StageStatus   `json:"status"`
	StartedAt          time.Time     `json:"started_at"`
	EndedAt            time.Time     `json:"ended_at,omitempty"`
	Duration           time.Duration `json:"duration"`
	CommitSHA          string        `json:"commit_sha,omitempty"`
	Error              *StageError   `json:"error,omitempty"`
	ConditionEvaluated bool          `json:"condition_evaluated,omitempty"`
	ConditionResult    bool          `json:"condition_result,omitempty"`
	ToolActivity       []string      `json:"tool_activity,omitempty"` // last 3 entries
	TokenUsage         *TokenUsage   `json:"token_usage,omitempty"`
}

// LoopContext links a run back to the loop session that scheduled it.
type LoopContext struct {
	SessionID       string `json:"session_id"`
	IterationNumber int    `json:"iteration_number"`
	SourceType      string `json:"source_type"` // "library" (seed) or "loop-pending"
}

// PipelineState is the full persisted record of a single run.
type PipelineState struct {
	RunID        string           `json:"run_id"`
	PipelineName string           `json:"pipeline_name"`
	Trigger      Trigger          `json:"trigger"`
	Stages       []StageExecution `json:"stages"`
	Status       RunStatus        `json:"status"`
	Artifacts    Artifacts        `json:"artifacts"`
	LoopContext  *LoopContext     `json:"loop_context,omitempty"`
}

// Clone returns a structural copy safe to hand to observers. The stages slice
// is rebuilt so reactive consumers see a fresh object on every callback.
func (p *PipelineState) Clone() *PipelineState {
	c := *p
	c.Stages = make([]StageExecution, len(p.Stages))
	copy(c.Stages, p.Stages)
	for i := range c.Stages {
		if e := c.Stages[i].Error; e != nil {
			dup := *e
			c.Stages[i].Error = &dup
		}
		if u := c.Stages[i].TokenUsage; u != nil {
			dup := *u
			c.Stages[i].TokenUsage = &dup
		}
		if a := c.Stages[i].ToolActivity; a != nil {
			c.Stages[i].ToolActivity = append([]string(nil), a...)
		}
	}
	c.Artifacts.ChangedFiles = append([]string(nil), p.Artifacts.ChangedFiles...)
	if p.LoopContext != nil {
		lc := *p.LoopContext
		c.LoopContext = &lc
	}
	return &c
}

// FindStage returns a pointer into Stages for the named stage, or nil.
func (p *PipelineState) FindStage(name string) *StageExecution {
	for i := range p.Stages {
		if p.Stages[i].StageName == name {
			return &p.Stages[i]
		}
	}
	return nil
}

// SessionStatus is the lifecycle status of a loop session.
type SessionStatus string

const (
	SessionInProgress   SessionStatus = "in-progress"
	SessionCompleted    SessionStatus = "completed"
	SessionFailed       SessionStatus = "failed"
	SessionLimitReached SessionStatus = "limit-reached"
	SessionAborted      SessionStatus = "aborted"
)

// LoopIteration records one runner invocation within a loop session.
type LoopIteration struct {
	IterationNumber int           `json:"iteration_number"`
	PipelineName    string        `json:"pipeline_name"`
	RunID           string        `json:"run_id"`
	Status          string        `json:"status"` // in-progress, completed, failed
	Duration        time.Duration `json:"duration,omitempty"`
	TriggeredNext   bool          `json:"triggered_next"`
}

// LoopSession is the persisted record of a loop-scheduler session.
type LoopSession struct {
	SessionID       string          `json:"session_id"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         *time.Time      `json:"end_time,omitempty"`
	Status          SessionStatus   `json:"status"`
	MaxIterations   int             `json:"max_iterations"`
	TotalIterations int             `json:"total_iterations"`
	Iterations      []LoopIteration `json:"iterations"`
}
