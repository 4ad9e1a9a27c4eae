package compare

// Stage is a step of the comparison pipeline.
type Stage int

const (
	StageStart Stage = iota
	StageImage1Resolving
	StageImage1Locating
	StageImage1Embedding
	StageImage2Resolving
	StageImage2Locating
	StageImage2Embedding
	StageComparing
	StageDone
	StageErrored
)

var stageNames = [...]string{
	StageStart:           "start",
	StageImage1Resolving: "image1_resolving",
	StageImage1Locating:  "image1_locating",
	StageImage1Embedding: "image1_embedding",
	StageImage2Resolving: "image2_resolving",
	StageImage2Locating:  "image2_locating",
	StageImage2Embedding: "image2_embedding",
	StageComparing:       "comparing",
	StageDone:            "done",
	StageErrored:         "errored",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// slotStages returns the resolving, locating and embedding stages of one
// image slot.
func slotStages(which string) (resolving, locating, embedding Stage) {
	if which == Image2 {
		return StageImage2Resolving, StageImage2Locating, StageImage2Embedding
	}
	return StageImage1Resolving, StageImage1Locating, StageImage1Embedding
}
