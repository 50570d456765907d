package pipeline

import "strconv"

// Stage is a state of a run. Each state is entered once the step of the
// same name has finished.
type Stage int

const (
	StageStart Stage = iota
	StageExtentResolved
	StageLandCoverClipped
	StageLookupLoaded
	StageExpressionBuilt
	StageRoughnessComputed
	StageVectorized
	StageDone
)

var stageNames = [...]string{
	StageStart:             "start",
	StageExtentResolved:    "extent",
	StageLandCoverClipped:  "clip",
	StageLookupLoaded:      "lookup",
	StageExpressionBuilt:   "expression",
	StageRoughnessComputed: "calc",
	StageVectorized:        "polygonize",
	StageDone:              "done",
}

func (s Stage) String() string {
	if s < StageStart || s > StageDone {
		return "stage(" + strconv.Itoa(int(s)) + ")"
	}
	return stageNames[s]
}
