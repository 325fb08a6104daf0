package roller

import (
	"fmt"

	"rollgen/internal/llm"
)

// DefaultStopMarker is the sentinel appended by the model once the whole
// task is complete. Five double daggers are vanishingly unlikely to occur
// in legitimate generated content; callers with content that could contain
// them must supply their own marker (marker uniqueness is a caller
// precondition, not something the controller can detect).
const DefaultStopMarker = "‡‡‡‡‡"

// DefaultContinueInstruction is the user message appended after every
// non-terminal call.
const DefaultContinueInstruction = "Continue exactly from where you left off. Do not repeat anything you have already written."

// systemPrompt instructs the model that the entire multi-call task, not
// each individual response, must end with the stop marker.
func systemPrompt(stopMarker string) string {
	return fmt.Sprintf(`You are an assistant producing a single long-form answer across multiple responses.
Your output length per response is capped, so the full answer may take several responses to complete.
When asked to continue, pick up exactly where your previous response stopped, without repeating anything.
Once the entire requested content is 100%% complete (not at the end of each individual response), append the following text in PLAIN TEXT as the very last thing you write: %s`, stopMarker)
}

// initialConversation builds the two opening messages of a task.
func initialConversation(cfg TaskConfig) []llm.Message {
	return []llm.Message{
		llm.SystemMessage(systemPrompt(cfg.StopMarker)),
		llm.UserMessage(cfg.Prompt),
	}
}
