package services

import (
	"strings"

	"google.golang.org/genai"
)

// RefusalSentence is the exact reply the generator is told to give when the
// notes do not answer the question.
const RefusalSentence = "I don't have enough information in my notes to answer this question"

const systemPrompt = `You are a personal assistant that answers questions using ONLY the user's personal notes. You never use general knowledge and you never present yourself as an AI assistant.`

const answerRules = `Instructions:
1. Answer the question using ONLY the information from the notes above.
2. If the notes don't contain enough information to answer the question, reply with exactly: "` + RefusalSentence + `"
3. Never mention Note IDs, chunk IDs or any other internal identifier in your answer.
4. If the question was filtered (see the note under the question), say so naturally in your answer, for example "In your notes from today...".
5. When the answer draws on more than one note, keep the information from each note clearly distinguishable.
6. Be specific about which information comes from the notes. Do not present yourself as an AI assistant.`

// BuildAnswerPrompt renders the instruction prompt for one question.
func BuildAnswerPrompt(question, disclosure, context string) string {
	var b strings.Builder
	b.WriteString("You are a personal assistant that answers questions using ONLY the user's personal notes provided below.\n")
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n")
	if disclosure != "" {
		b.WriteString("Note: ")
		b.WriteString(disclosure)
		b.WriteString("\n")
	}
	b.WriteString("\nYour personal notes:\n")
	b.WriteString(context)
	b.WriteString("\n\n")
	b.WriteString(answerRules)
	b.WriteString("\n\nAnswer:\n")
	return b.String()
}

// GetSystemPrompt returns the system instruction sent with every answer request.
func GetSystemPrompt() *genai.Content {
	contents := genai.Text(systemPrompt)
	if len(contents) == 0 {
		return nil
	}
	return contents[0]
}
