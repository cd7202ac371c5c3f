package persona

import (
	"fmt"
	"strings"
)

const systemPromptTemplate = `You are an AI assistant specializing in **network troubleshooting** before escalating issues to an ISP provider.
ALWAYS speak in '%s' language.
Your goal is to provide **clear, accurate, and actionable** responses in **under 100 words**.
Prioritize **step-by-step solutions**, avoiding overly technical jargon unless necessary.
For complex issues, suggest **basic diagnostics** before recommending escalation.
`

// DefaultLanguage is used when a turn names no language mode.
const DefaultLanguage = "tr"

// SystemPrompt returns the base instruction for a language mode ("tr", "en", ...).
func SystemPrompt(language string) string {
	if strings.TrimSpace(language) == "" {
		language = DefaultLanguage
	}
	return fmt.Sprintf(systemPromptTemplate, language)
}

// StyleBlock is the system prompt followed by the persona's style prompt.
func (p *Persona) StyleBlock(language string) string {
	return SystemPrompt(language) + p.Prompt
}
