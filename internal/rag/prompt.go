package rag

import "strings"

// NoInformationAnswer is the reply the model is told to give when the
// documentation has nothing relevant.
const NoInformationAnswer = "I'm sorry, I don't have enough information to answer that right now."

const answerPromptTemplate = `You are a helpful assistant specialized in Oracle documentation.

Answer the user's question as clearly and accurately as possible, using the available Oracle documentation you've been provided.
- If the answer can be reasonably inferred from the information you have, include it.
- If you can only answer part of the question, explain which part you can answer and provide that information.
- If no relevant information is available, reply with:
"` + NoInformationAnswer + `"

Make sure your response:
- Uses clear, professional language
- Focuses on Oracle-specific terms or behavior when relevant
- Quotes directly from documentation when appropriate
- Avoids mentioning how the answer was found or processed

Context:
{context}

Question: {input}
`

// BuildPrompt stuffs the retrieved context and the question into the answer template.
func BuildPrompt(contextText, question string) string {
	return strings.NewReplacer(
		"{context}", contextText,
		"{input}", question,
	).Replace(answerPromptTemplate)
}
