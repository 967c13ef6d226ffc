package engine

// Phase is a coarse label for what the agent is currently doing.
type Phase string

const (
	PhaseExplore Phase = "explore"
	PhaseBuild   Phase = "build"
	PhaseVerify  Phase = "verify"
)

// DetectPhase looks at the most recent tool results in history.
func DetectPhase(history []ChatMessage) Phase {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		for j := len(m.ToolResults) - 1; j >= 0; j-- {
			switch m.ToolResults[j].ToolName {
			case "write_file", "edit_file", "delete_file":
				return PhaseBuild
			case "run_command", "view_image":
				return PhaseVerify
			case "read_file", "list_files", "grep", "search_code":
				return PhaseExplore
			}
		}
	}
	return PhaseExplore
}
