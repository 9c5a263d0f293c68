package backend

import "fmt"

// PromptDescriptor is one entry in the static prompt catalog.
type PromptDescriptor struct {
	Name        string
	Description string
}

// PromptMessage is one rendered message in a GetPrompt result.
type PromptMessage struct {
	Role string
	Text string
}

// PromptResult is get_prompt's rendered output.
type PromptResult struct {
	Description string
	Messages    []PromptMessage
}

// promptTemplates is the static prompt catalog, each parameterized by
// real-time device counts so descriptions reflect the live structure.
var promptTemplates = []PromptDescriptor{
	{Name: "home_overview", Description: "Summarize the current state of the home"},
	{Name: "energy_report", Description: "Report energy consumption across rooms"},
	{Name: "climate_check", Description: "Check climate devices for out-of-range readings"},
	{Name: "security_sweep", Description: "Review door/window and motion sensor state"},
}

// ListPrompts renders the static catalog with live device counts
// substituted into each description.
func (b *Bridge) ListPrompts() []PromptDescriptor {
	counts := b.liveDeviceCounts()
	out := make([]PromptDescriptor, len(promptTemplates))
	for i, p := range promptTemplates {
		out[i] = PromptDescriptor{
			Name:        p.Name,
			Description: fmt.Sprintf("%s (%d devices known)", p.Description, counts["total"]),
		}
	}
	return out
}

func (b *Bridge) liveDeviceCounts() map[string]int {
	if b.deviceStats != nil {
		return b.deviceStats()
	}
	return map[string]int{"total": len(b.structure.Devices())}
}

// GetPrompt renders {description, messages[role, text]} for name given
// arguments.
func (b *Bridge) GetPrompt(name string, args map[string]string) (PromptResult, error) {
	for _, p := range promptTemplates {
		if p.Name != name {
			continue
		}
		text := renderPromptBody(name, args, b.liveDeviceCounts())
		return PromptResult{
			Description: p.Description,
			Messages:    []PromptMessage{{Role: "user", Text: text}},
		}, nil
	}
	return PromptResult{}, fmt.Errorf("unknown prompt: %s", name)
}

func renderPromptBody(name string, args map[string]string, counts map[string]int) string {
	switch name {
	case "home_overview":
		return fmt.Sprintf("Summarize the home's %d known devices across all rooms.", counts["total"])
	case "energy_report":
		room := args["room"]
		if room == "" {
			return "Report energy consumption across every room."
		}
		return fmt.Sprintf("Report energy consumption for room %q.", room)
	case "climate_check":
		return "Check every climate device for readings outside its comfortable range."
	case "security_sweep":
		return "Review every door/window and motion sensor for anomalies."
	default:
		return ""
	}
}
