package answer

import (
	"fmt"
	"strings"

	"github.com/knowledgehub/rag-core/internal/search"
)

// NoDocumentsAnswer is returned when search finds nothing to ground an
// answer on. It is never written to the cache: an empty corpus must not
// poison it with a permanent negative answer.
const NoDocumentsAnswer = "I don't have any documents to search through. Please upload some documents first."

// promptTemplate instructs the model to answer strictly from the supplied
// context and to cite sources by number. The [Source N] numbering is part
// of the generation-service contract: downstream citation parsing depends
// on it.
const promptTemplate = `You are a helpful assistant that answers questions based on the provided context.
Use ONLY the information from the context below to answer the question.
If the answer is not in the context, say "I don't have enough information to answer this question."
Always cite your sources by mentioning the source number (e.g., [Source 1]).

Context:
%s

Question: %s

Answer:`

// BuildContext assembles the context block and citations from the final
// ranked results. Sources are numbered sequentially from 1 in rank order,
// each formatted as "[Source N: <document>, <location>]" followed by the
// passage text.
func BuildContext(results []search.Result) (string, []search.Citation) {
	parts := make([]string, 0, len(results))
	citations := make([]search.Citation, 0, len(results))

	for i, r := range results {
		citation := search.NewCitation(r)
		citations = append(citations, citation)
		parts = append(parts, fmt.Sprintf("[Source %d: %s, %s]\n%s",
			i+1, r.DocumentName, citation.Location(), r.Text))
	}

	return strings.Join(parts, "\n\n"), citations
}

// BuildPrompt renders the full generation prompt for a question and its
// assembled context.
func BuildPrompt(question, contextBlock string) string {
	return fmt.Sprintf(promptTemplate, contextBlock, question)
}
