package oracle

import (
	_ "embed"
	"strings"

	"github.com/vriksha-code/verisure/internal/doctype"
)

// PromptVersion identifies the embedded template; providers log it with usage.
const PromptVersion = "verify_v1"

//go:embed prompts/verify_v1.txt
var promptV1 string

// BuildPrompt renders the instruction text for a request. An empty task falls
// back to the built-in criteria for the document type.
func BuildPrompt(docType doctype.Type, task string) string {
	task = strings.TrimSpace(task)
	criteria := docType.Criteria()
	if task == "" {
		if criteria != "" {
			task = "Confirm the document is a genuine " + docType.Label() + "."
		} else {
			task = doctype.DefaultTask
		}
	}
	criteriaBlock := ""
	if criteria != "" {
		criteriaBlock = "Criteria for a " + docType.Label() + ":\n" + criteria + "\n"
	}
	return strings.NewReplacer(
		"{{DOCUMENT_TYPE}}", docType.Label(),
		"{{TASK}}", task,
		"{{CRITERIA}}", criteriaBlock,
	).Replace(promptV1)
}
