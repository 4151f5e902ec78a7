package entities

// PrerequisiteResult is the immutable outcome of probing one external tool
type PrerequisiteResult struct {
	ToolName      string
	Available     bool
	VersionString string
	Required      bool
	Problem       string // empty when the tool satisfies its requirement
}

// Satisfied reports whether the tool can be used by the pipeline
func (r PrerequisiteResult) Satisfied() bool {
	return r.Available && r.Problem == ""
}
