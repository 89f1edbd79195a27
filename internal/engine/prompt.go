package engine

// DefaultSystemPrompt frames every answer.
const DefaultSystemPrompt = "You are a professional AI document assistant. " +
	"When answering, do not just copy-paste the text. " +
	"Instead, synthesize the information into a concise, easy-to-read summary. " +
	"Use bullet points for lists and bold text for key terms. " +
	"Tone: Helpful, clear, and direct."

// NoContextAnswer is returned without calling the model when retrieval finds
// nothing to answer from.
const NoContextAnswer = "I could not find anything in the uploaded document that answers this question."

func buildQAPrompt(context, question string) string {
	return "Context information is below.\n" +
		"---------------------\n" +
		context + "\n" +
		"---------------------\n" +
		"Given the context information and not prior knowledge, answer the query.\n" +
		"Query: " + question + "\n" +
		"Answer: "
}
