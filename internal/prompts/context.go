package prompts

import (
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/cofounder/internal/workspace"
)

// QA is one interview question and the founder's answer.
type QA struct {
	Question string `json:"question" yaml:"question"`
	Answer   string `json:"answer" yaml:"answer"`
}

// BusinessContext is what the onboarding produced for a project.
type BusinessContext struct {
	ProjectName  string `json:"project_name" yaml:"project_name"`
	ProblemBrief string `json:"problem_brief" yaml:"problem_brief"`
	Interview    []QA   `json:"interview" yaml:"interview"`
	BuildPlan    string `json:"build_plan" yaml:"build_plan"`
	MVPScope     string `json:"mvp_scope" yaml:"mvp_scope"`
}

const notProvided = "(not provided)"

func orNotProvided(s string) string {
	if strings.TrimSpace(s) == "" {
		return notProvided
	}
	return strings.TrimSpace(s)
}

// FormatInterview renders the interview as numbered Q/A pairs.
func FormatInterview(qas []QA) string {
	var sb strings.Builder
	for i, qa := range qas {
		if strings.TrimSpace(qa.Question) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%d. Q: %s\n   A: %s", i+1, strings.TrimSpace(qa.Question), orNotProvided(qa.Answer))
	}
	return orNotProvided(sb.String())
}

// stackFragment tells the agent how the detected project builds.
func stackFragment(stack workspace.Stack) string {
	if stack.Type == workspace.ProjectTypeUnknown || stack.Type == "" {
		return "[WORKSPACE]\nThe workspace is empty or its stack is not recognised yet. Choose a stack that fits the MVP scope and scaffold it."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "[WORKSPACE]\nThis is a %s project.", stack.Type)
	for _, c := range []struct{ label, cmd string }{
		{"Install dependencies", stack.Install},
		{"Build", stack.Build},
		{"Test", stack.Test},
	} {
		if c.cmd != "" {
			fmt.Fprintf(&sb, "\n- %s: %s", c.label, c.cmd)
		}
	}
	return sb.String()
}

// BuildSystemPrompt renders the build agent's system prompt. It is built
// once per session; the result never changes while the session runs.
func BuildSystemPrompt(bc BusinessContext, stack workspace.Stack) (string, error) {
	b, err := NewPromptBuilder(DefaultRegistry(), CofounderPromptID, "")
	if err != nil {
		return "", err
	}
	name := bc.ProjectName
	if strings.TrimSpace(name) == "" {
		name = "this startup"
	}
	return b.
		SetVariable("project_name", strings.TrimSpace(name)).
		SetVariable("problem_brief", orNotProvided(bc.ProblemBrief)).
		SetVariable("interview", FormatInterview(bc.Interview)).
		SetVariable("mvp_scope", orNotProvided(bc.MVPScope)).
		SetVariable("build_plan", orNotProvided(bc.BuildPlan)).
		AddFragment(stackFragment(stack)).
		Build()
}

// WithRules appends the founder's standing rules to a system prompt.
func WithRules(prompt, rules string) string {
	rules = strings.TrimSpace(rules)
	if rules == "" {
		return prompt
	}
	return prompt + "\n\n[FOUNDER RULES]\nThese override anything above.\n" + rules
}
