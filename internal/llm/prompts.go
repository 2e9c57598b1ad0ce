package llm

import (
	"strings"

	"github.com/sells-group/consensus-crawler/internal/model"
)

// Prompt templates use a {domain} placeholder substituted at render time.
var promptTemplates = map[model.PromptType]string{
	model.PromptBusinessAnalysis:    "Analyze the business potential and market position of {domain}. Provide comprehensive insights.",
	model.PromptContentStrategy:     "Develop a content and SEO strategy for {domain}. Include competitive analysis.",
	model.PromptTechnicalAssessment: "Assess the technical implementation and infrastructure needs for {domain}.",
}

// RenderPrompt produces the prompt text for a subject and prompt type.
// Unknown prompt types fall back to the business analysis template.
func RenderPrompt(pt model.PromptType, subject string) string {
	tmpl, ok := promptTemplates[pt]
	if !ok {
		tmpl = promptTemplates[model.PromptBusinessAnalysis]
	}
	return strings.ReplaceAll(tmpl, "{domain}", subject)
}
