package chat

import (
	"strings"

	"github.com/teilomillet/sumchat/memory"
)

// Llama-2 chat markup.
const (
	instOpen  = "[INST]"
	instClose = "[/INST]"
	sysOpen   = "<<SYS>>"
	sysClose  = "<</SYS>>"
)

// BuildPrompt assembles the instruction-tagged prompt: the system message
// and running summary inside the system block, then every buffered turn with
// the human side wrapped in instruction tags, then the newest message.
func BuildPrompt(systemMessage, summary string, turns []memory.Turn, newest string) string {
	var b strings.Builder

	b.WriteString(instOpen + " " + sysOpen + "\n")
	b.WriteString(systemMessage)
	b.WriteString("\n")
	b.WriteString(summary)
	b.WriteString(sysClose + "\n\n")

	for _, t := range turns {
		b.WriteString("\n" + instOpen + t.Input + instClose)
		b.WriteString("\n" + t.Output)
	}

	b.WriteString("\n" + instOpen + newest + instClose)
	return b.String()
}
