package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/tools"
)

// fakeExtractor scripts one answer per call.
type fakeExtractor struct {
	answers     []string
	sufficients []bool
	errs        []error
	calls       int
	materials   []string
}

func (f *fakeExtractor) ExtractAnswer(ctx context.Context, question, material string) (string, bool, error) {
	i := f.calls
	f.calls++
	f.materials = append(f.materials, material)
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return f.answers[i], f.sufficients[i], err
}

type fakeSearcher struct {
	results []tools.SearchResult
	err     error
	calls   int
	queries []string
}

func (f *fakeSearcher) Search(ctx context.Context, query string) ([]tools.SearchResult, error) {
	f.calls++
	f.queries = append(f.queries, query)
	return f.results, f.err
}

func TestDocQASufficientDocumentSkipsSearch(t *testing.T) {
	extractor := &fakeExtractor{answers: []string{"The warranty lasts two years."}, sufficients: []bool{true}}
	searcher := &fakeSearcher{}
	policy := NewDocumentQAPolicy(extractor, searcher, testLogger())

	answer, err := policy.Answer(context.Background(), "How long is the warranty?", "warranty text")
	require.NoError(t, err)

	assert.Equal(t, SourceDocument, answer.Source)
	assert.Equal(t, "The warranty lasts two years.", answer.Text)
	assert.Zero(t, searcher.calls)
	assert.Equal(t, 1, extractor.calls)
}

func TestDocQAInsufficientDocumentFallsBackToWeb(t *testing.T) {
	extractor := &fakeExtractor{
		answers:     []string{"", "Released in March 2026."},
		sufficients: []bool{false, true},
	}
	searcher := &fakeSearcher{results: []tools.SearchResult{
		{Title: "Release notes", Snippet: "Shipped March 2026", URL: "https://example.com"},
	}}
	policy := NewDocumentQAPolicy(extractor, searcher, testLogger())

	answer, err := policy.Answer(context.Background(), "When was it released?", "unrelated document")
	require.NoError(t, err)

	assert.Equal(t, SourceWeb, answer.Source)
	assert.Equal(t, "Released in March 2026.", answer.Text)
	assert.Equal(t, 1, searcher.calls)
	require.Equal(t, 2, extractor.calls)
	assert.Contains(t, extractor.materials[1], "Release notes")

	// The search runs on a keyword query derived from the question, not
	// the question verbatim.
	require.Len(t, searcher.queries, 1)
	assert.Equal(t, "it released", searcher.queries[0])
}

func TestSearchQueryDerivation(t *testing.T) {
	cases := map[string]string{
		"How long is the warranty?":       "is the warranty",
		"What is the return policy?":      "the return policy",
		"Tell me about the battery life.": "the battery life",
		"Paris weather forecast":          "Paris weather forecast",
		"Does it support USB-C?":          "it support USB-C",
		"?":                               "?",
	}
	for question, want := range cases {
		assert.Equal(t, want, searchQuery(question), "question %q", question)
	}
}

func TestDocQASearchFailureDegradesToUnconfirmed(t *testing.T) {
	extractor := &fakeExtractor{
		answers:     []string{"Possibly two years."},
		sufficients: []bool{false},
	}
	searcher := &fakeSearcher{err: tools.ErrProviderUnavailable}
	policy := NewDocumentQAPolicy(extractor, searcher, testLogger())

	answer, err := policy.Answer(context.Background(), "How long is the warranty?", "vague document")
	require.NoError(t, err)

	assert.Equal(t, SourceDocumentUnconfirmed, answer.Source)
	assert.Equal(t, "Possibly two years.", answer.Text)
}

func TestDocQAExtractionFailureIsAnError(t *testing.T) {
	extractor := &fakeExtractor{
		answers:     []string{""},
		sufficients: []bool{false},
		errs:        []error{errors.New("model unavailable")},
	}
	policy := NewDocumentQAPolicy(extractor, &fakeSearcher{}, testLogger())

	_, err := policy.Answer(context.Background(), "anything", "document")
	require.Error(t, err)
}

func TestDocumentQAToolUsesContextDocument(t *testing.T) {
	extractor := &fakeExtractor{answers: []string{"Answer from upload."}, sufficients: []bool{true}}
	capability := NewDocumentQATool(NewDocumentQAPolicy(extractor, &fakeSearcher{}, testLogger()))

	ctx := WithDocument(context.Background(), "uploaded text")
	result, err := capability.Execute(ctx, tools.Args{"question": "What does it say?"})
	require.NoError(t, err)

	assert.Contains(t, result, "Answer from upload.")
	assert.Contains(t, result, SourceDocument)
}

func TestDocumentQAToolWithoutDocument(t *testing.T) {
	capability := NewDocumentQATool(NewDocumentQAPolicy(&fakeExtractor{}, &fakeSearcher{}, testLogger()))

	_, err := capability.Execute(context.Background(), tools.Args{"question": "What does it say?"})
	require.ErrorIs(t, err, tools.ErrNoDocument)
}
