package constants

// Stage labels reported by the progress tracker, in order.
const (
	StageQueued   = "queued"
	StageValidate = "validate"
	StageRead     = "read"
	StageParse    = "parse"
	StageExtract  = "extract"
	StageFinalize = "finalize"
	StageComplete = "complete"
)

// ProcessingStages is the fixed sequence the stage sequencer divides 100% across.
var ProcessingStages = []string{
	StageValidate,
	StageRead,
	StageParse,
	StageExtract,
	StageFinalize,
	StageComplete,
}
