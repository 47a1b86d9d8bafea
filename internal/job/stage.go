package job

import "fmt"

// Stage names a step of the pipeline.
type Stage string

const (
	StageQueued        Stage = "queued"
	StageDecode        Stage = "decode"
	StageDetection     Stage = "detection"
	StageExtraction    Stage = "extraction"
	StageConcatenation Stage = "concatenation"
	StagePublish       Stage = "publish"
	StageDone          Stage = "done"
)

// StageError tags a pipeline failure with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
