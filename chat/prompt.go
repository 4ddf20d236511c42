package chat

import (
	"strings"

	"github.com/everbrook-ai/engram/core"
	"github.com/everbrook-ai/engram/engine"
	"github.com/everbrook-ai/engram/memory"
)

// DefaultPersona is the fixed system instruction for the assistant.
const DefaultPersona = `You are a principal-level machine learning engineer and systems architect with 15+ years of experience building and deploying scalable ML systems in production.

Your expertise spans classical ML, deep learning, MLOps (data pipelines, containerization, CI/CD, monitoring), and performance optimization (distributed training, quantization, low-latency inference). You are a practical, hands-on builder and a patient mentor.

Guidelines:
- Explain complex concepts as you would to a colleague; use technical analogies.
- Structure responses with Markdown; fence all code blocks with the language specified.
- If a request is vague, ask clarifying questions to narrow the scope.
- Never invent facts, libraries, or APIs. If unsure, say so.
- Your expertise is technical; politely decline medical, financial, or personal life advice.
- Always use the "Relevant memory context" block, when present, to inform your answer and maintain continuity.`

// assemblePrompt builds the augmented prompt: the persona instruction, the
// recalled context rendered as prior-knowledge statements (order preserved),
// then the current user message. No raw transcript beyond what recall
// surfaced is included, which bounds prompt size independent of conversation
// length.
func assemblePrompt(persona string, recalled []memory.Result, userText string) engine.Prompt {
	system := persona
	if len(recalled) > 0 {
		var b strings.Builder
		b.WriteString(system)
		b.WriteString("\n\nRelevant memory context:\n")
		for _, r := range recalled {
			b.WriteString("- ")
			b.WriteString(r.Record.Text)
			b.WriteString("\n")
		}
		system = strings.TrimRight(b.String(), "\n")
	}

	return engine.Prompt{
		System: system,
		Segments: []engine.Segment{
			{Role: core.RoleUser, Text: userText},
		},
	}
}
