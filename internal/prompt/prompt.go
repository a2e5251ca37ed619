package prompt

import (
	"fmt"
	"strings"
)

// DefaultChunkBudget is the character budget of one chunk in chunked generation.
const DefaultChunkBudget = 2000

// UserPrefix precedes the document text in the user message.
const UserPrefix = "Create flashcards from this text: "

const systemInstruction = `You are an expert at creating educational flashcards. ` +
	`You must respond with ONLY a JSON array of flashcard objects. ` +
	`Each flashcard object must have exactly these fields: "question" (string), "answer" (string), ` +
	`and "difficulty" (string, one of: "easy", "medium", "hard"). ` +
	`Do not include any other text, prose or markdown outside the array.`

// Prompt is the two-message conversation sent to the completion backend.
type Prompt struct {
	System string
	User   string
}

// Build returns the prompt for a whole document. text is sent verbatim.
func Build(text string) Prompt {
	return Prompt{
		System: systemInstruction,
		User:   UserPrefix + text,
	}
}

// BuildChunk returns the prompt for one chunk of a chunked run, asking for
// cards flashcards when cards is positive. The chunk is sent as is.
func BuildChunk(chunk string, cards int) Prompt {
	system := systemInstruction
	if cards > 0 {
		system = fmt.Sprintf("%s Create %d flashcards focused on the key concepts and important details.", systemInstruction, cards)
	}
	return Prompt{
		System: system,
		User:   chunk,
	}
}

// Chunk splits text into whitespace-delimited chunks of at most budget bytes.
// Words are never split: a word that would overflow the current chunk starts
// the next one, and a single word longer than budget becomes its own chunk.
// Joining the chunks with a single space reproduces strings.Fields(text)
// joined the same way.
func Chunk(text string, budget int) []string {
	if budget <= 0 {
		budget = DefaultChunkBudget
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var (
		chunks  []string
		current []string
		size    int
	)
	for _, word := range words {
		need := len(word)
		if len(current) > 0 {
			need++
		}
		if len(current) > 0 && size+need > budget {
			chunks = append(chunks, strings.Join(current, " "))
			current = current[:0]
			size = 0
			need = len(word)
		}
		current = append(current, word)
		size += need
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}
