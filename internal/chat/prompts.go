package chat

import "fmt"

// visionObservationPrompt is the fixed instruction sent alongside a webcam
// frame to the vision model.
const visionObservationPrompt = "You are a clinician character observing a single webcam frame.\n" +
	"Briefly describe anything clinically or emotionally relevant.\n" +
	"Use ONE or TWO short sentences."

// buildAffectPrompt asks the model to fold the latest user message into the
// running emotional-state descriptor.
func buildAffectPrompt(prevAffect, lastMessage string) string {
	return fmt.Sprintf(
		"Previous state: %s\n"+
			"Message: %q\n"+
			"Update the emotional state using 3-6 emotional keywords. "+
			"Output only the keywords, comma-separated.",
		prevAffect, lastMessage,
	)
}

// buildExpressionPrompt asks the model to pick exactly one catalog member.
func buildExpressionPrompt(affect, reply, joinedCatalog string) string {
	return fmt.Sprintf(
		"You are selecting the best clinician facial expression.\n\n"+
			"User emotional state: %q\n"+
			"Clinician reply: %q\n\n"+
			"Available expressions: %s\n"+
			"Choose EXACTLY ONE expression from this list. "+
			"Do NOT invent new expressions. "+
			"Respond with ONLY the expression name.",
		affect, reply, joinedCatalog,
	)
}

// buildSystemPrompt renders the persona template for the current affect and,
// when a visual observation exists, appends the block instructing the model
// to use it without quoting it.
func buildSystemPrompt(personaTemplate, affect, visionText string) string {
	if affect == "" {
		affect = "emotionally neutral"
	}
	prompt := fmt.Sprintf(personaTemplate, affect)
	if visionText != "" {
		prompt += fmt.Sprintf(
			"\n\nHere is the clinician's visual observation of the patient's current appearance:\n"+
				"[VISION]: %s\n"+
				"Use this information to guide your reply, but do not repeat it verbatim.",
			visionText,
		)
	}
	return prompt
}
