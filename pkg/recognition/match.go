package recognition

import "math"

// MatchThreshold is the distance at or below which two dlib embeddings
// belong to the same person. It comes from the model's training regime and
// is not tuned here.
const MatchThreshold = 0.6

// MatchResult is the outcome of comparing two embeddings.
type MatchResult struct {
	Distance  float64
	Threshold float64
	IsMatch   bool
}

// Message is the human readable verdict.
func (m MatchResult) Message() string {
	if m.IsMatch {
		return "Faces match"
	}
	return "Faces do not match"
}

// Compare measures the Euclidean distance between a and b and classifies it
// against MatchThreshold.
func Compare(a, b Embedding) MatchResult {
	return classify(EuclideanDistance(a, b))
}

func classify(distance float64) MatchResult {
	return MatchResult{
		Distance:  distance,
		Threshold: MatchThreshold,
		IsMatch:   distance <= MatchThreshold,
	}
}

// EuclideanDistance calculates the Euclidean distance between two embeddings.
func EuclideanDistance(a, b Embedding) float64 {
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
