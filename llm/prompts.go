package llm

import (
	"context"
	"strings"
)

// Query categories produced by Classify. Anything else the model emits maps
// to CategoryOther, which skips retrieval in the hybrid workflow.
const (
	CategoryQAndA       = "q-and-a"
	CategoryFactFinding = "fact-finding"
	CategoryOther       = "other"
)

const rewriteSystemPrompt = "Rewrite the user's question to be more specific and relevant. " +
	"Return only the rewritten question."

const classifySystemPrompt = "Classify the question: 'q-and-a' (simple factual), " +
	"'fact-finding' (needs research), or 'other' (unclear). Respond with ONLY the category name."

// Rewrite turns a user question into a more specific standalone query. On a
// model failure or an empty reply the original query is returned so the
// caller can proceed unrewritten.
func (c *ChatClient) Rewrite(ctx context.Context, query string) (string, error) {
	messages := []ChatMessage{
		{Role: "system", Content: rewriteSystemPrompt},
		{Role: "user", Content: "Original question: " + query},
	}
	completion, err := c.CreateCompletion(ctx, c.chatModel, messages)
	if err != nil {
		return query, err
	}
	rewritten := strings.TrimSpace(strings.Trim(strings.TrimSpace(completion.Content), `"`))
	if rewritten == "" {
		return query, nil
	}
	return rewritten, nil
}

// Classify assigns a query to one of the retrieval categories. The category
// is matched by substring since models tend to decorate the bare label;
// unrecognized output and errors both map to CategoryOther.
func (c *ChatClient) Classify(ctx context.Context, query string) (string, error) {
	messages := []ChatMessage{
		{Role: "system", Content: classifySystemPrompt},
		{Role: "user", Content: "Question: " + query},
	}
	completion, err := c.CreateCompletion(ctx, c.chatModel, messages)
	if err != nil {
		return CategoryOther, err
	}
	reply := strings.ToLower(strings.TrimSpace(completion.Content))
	switch {
	case strings.Contains(reply, CategoryQAndA):
		return CategoryQAndA, nil
	case strings.Contains(reply, CategoryFactFinding):
		return CategoryFactFinding, nil
	default:
		return CategoryOther, nil
	}
}

// AnswerPrompt returns the system prompt the hybrid workflow answers with
// for a given category.
func AnswerPrompt(category string) string {
	switch category {
	case CategoryQAndA:
		return "Answer the user's question concisely. Use bullet points and summarize the answer up front."
	case CategoryFactFinding:
		return "Provide a detailed answer with supporting evidence. Include a concise summary followed by bullet points of key facts."
	default:
		return "Ask the user to provide more detail so you can help them better."
	}
}
