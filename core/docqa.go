/*
Document question answering with a web-search fallback. The policy first
asks the model to answer from the uploaded document and judge whether the
document was sufficient. Only an insufficient verdict triggers a single web
search; the source of the final answer is always reported to the user.
*/
package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"concierge/tools"
)

// AnswerExtractor answers a question from the given material and judges
// whether the material was sufficient. ModelAdapter implements it.
type AnswerExtractor interface {
	ExtractAnswer(ctx context.Context, question, material string) (answer string, sufficient bool, err error)
}

// WebSearcher performs one web search. The search capability implements it;
// the policy takes the narrow interface so tests can script results.
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]tools.SearchResult, error)
}

// Answer provenance labels, surfaced to the user verbatim.
const (
	SourceDocument            = "document"
	SourceWeb                 = "web"
	SourceDocumentUnconfirmed = "document (unconfirmed)"
)

// DocumentAnswer is a provenance-tagged answer.
type DocumentAnswer struct {
	Text   string
	Source string
}

// DocumentQAPolicy implements the document-then-web answering flow.
type DocumentQAPolicy struct {
	extractor AnswerExtractor
	searcher  WebSearcher
	logger    *logrus.Logger
}

func NewDocumentQAPolicy(extractor AnswerExtractor, searcher WebSearcher, logger *logrus.Logger) *DocumentQAPolicy {
	return &DocumentQAPolicy{extractor: extractor, searcher: searcher, logger: logger}
}

// Answer resolves a question against the document, falling back to one web
// search when the document is insufficient. A failed fallback degrades to
// the document answer marked unconfirmed rather than failing the request.
func (p *DocumentQAPolicy) Answer(ctx context.Context, question, document string) (DocumentAnswer, error) {
	documentAnswer, sufficient, err := p.extractor.ExtractAnswer(ctx, question, document)
	if err != nil {
		return DocumentAnswer{}, fmt.Errorf("document extraction failed: %w", err)
	}
	if sufficient {
		return DocumentAnswer{Text: documentAnswer, Source: SourceDocument}, nil
	}

	query := searchQuery(question)
	p.logger.WithFields(logrus.Fields{
		"question": question,
		"query":    query,
	}).Info("Document insufficient, falling back to web search")

	results, err := p.searcher.Search(ctx, query)
	if err != nil {
		p.logger.WithField("error", err.Error()).Warn("Web fallback unavailable, returning unconfirmed document answer")
		return p.unconfirmed(documentAnswer), nil
	}

	webAnswer, _, err := p.extractor.ExtractAnswer(ctx, question, renderSearchResults(results))
	if err != nil || strings.TrimSpace(webAnswer) == "" {
		return p.unconfirmed(documentAnswer), nil
	}
	return DocumentAnswer{Text: webAnswer, Source: SourceWeb}, nil
}

func (p *DocumentQAPolicy) unconfirmed(documentAnswer string) DocumentAnswer {
	if strings.TrimSpace(documentAnswer) == "" {
		documentAnswer = "The document does not appear to contain this information, and the web could not be consulted."
	}
	return DocumentAnswer{Text: documentAnswer, Source: SourceDocumentUnconfirmed}
}

// Interrogative openers stripped when turning a question into a search
// query. Longer phrases come first so "when was" wins over "was".
var questionOpeners = []string{
	"what is", "what are", "what was", "what were",
	"who is", "who are", "who was",
	"when is", "when was", "when does", "when did",
	"where is", "where are", "where was",
	"why is", "why was", "why does", "why did",
	"how is", "how was", "how does", "how did", "how long", "how many", "how much",
	"does", "did", "do", "is", "are", "was", "were", "can", "could", "will",
	"tell me about", "tell me",
}

// searchQuery derives a keyword query from a natural-language question by
// dropping the interrogative opener and trailing punctuation. The original
// question is kept when stripping would leave nothing.
func searchQuery(question string) string {
	query := strings.TrimSpace(question)
	query = strings.TrimRight(query, "?!. ")
	lowered := strings.ToLower(query)
	for _, opener := range questionOpeners {
		if strings.HasPrefix(lowered, opener+" ") {
			query = strings.TrimSpace(query[len(opener):])
			break
		}
	}
	if query == "" {
		return strings.TrimSpace(question)
	}
	return query
}

func renderSearchResults(results []tools.SearchResult) string {
	var b strings.Builder
	for i, result := range results {
		fmt.Fprintf(&b, "%d. %s\n%s\n%s\n\n", i+1, result.Title, result.Snippet, result.URL)
	}
	return strings.TrimSpace(b.String())
}

type documentContextKey struct{}

// WithDocument attaches the conversation's uploaded document text to the
// request context so the document QA capability can reach it through the
// shared registry.
func WithDocument(ctx context.Context, text string) context.Context {
	return context.WithValue(ctx, documentContextKey{}, text)
}

func documentFromContext(ctx context.Context) string {
	if text, ok := ctx.Value(documentContextKey{}).(string); ok {
		return text
	}
	return ""
}

// DocumentQATool exposes the policy as the answer_from_document capability.
type DocumentQATool struct {
	policy *DocumentQAPolicy
}

func NewDocumentQATool(policy *DocumentQAPolicy) *DocumentQATool {
	return &DocumentQATool{policy: policy}
}

func (t *DocumentQATool) Descriptor() tools.CapabilityDescriptor {
	return tools.CapabilityDescriptor{
		Name:    "answer_from_document",
		Purpose: "Answer a question from the uploaded document, falling back to a web search if the document does not contain the answer. Reports whether the answer came from the document or the web.",
		Args: []tools.ArgSpec{
			{Name: "question", Type: tools.ArgTypeString, Required: true, Description: "The question to answer"},
			{Name: "document", Type: tools.ArgTypeString, Required: false, Description: "Document text to answer from; defaults to the most recently uploaded document"},
		},
	}
}

func (t *DocumentQATool) Execute(ctx context.Context, args tools.Args) (string, error) {
	question := args.String("question")
	document := args.String("document")
	if strings.TrimSpace(document) == "" {
		document = documentFromContext(ctx)
	}
	if strings.TrimSpace(document) == "" {
		return "", tools.ErrNoDocument
	}

	answer, err := t.policy.Answer(ctx, question, document)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s\n\n(Source: %s)", answer.Text, answer.Source), nil
}

var _ tools.Capability = (*DocumentQATool)(nil)
