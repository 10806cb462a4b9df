package notes

import "strings"

// RunningInstance seeds one dimension of an execution.
type RunningInstance struct {
	StartPoint          int `json:"start_point"`
	TransformationShift int `json:"transformation_shift"`
}

// BuildRunningInstances returns the time seed followed by one instance per
// dimension, in declared order. Unknown dimension names seed at zero.
func BuildRunningInstances(seeds map[string]int, featureNames []string) []RunningInstance {
	out := make([]RunningInstance, 0, len(featureNames)+1)
	out = append(out, RunningInstance{StartPoint: seeds[Time]})
	for _, name := range featureNames {
		out = append(out, RunningInstance{StartPoint: seeds[strings.ToLower(strings.TrimSpace(name))]})
	}
	return out
}
