package llmclient

import (
	"context"
	"fmt"
	"strings"
)

// MockClient answers by templating the query against the retrieved
// contexts, with no external call. Grounded on
// original_source/src/services/llm.py's MockLLMService.generate_answer.
type MockClient struct{}

func NewMock() *MockClient { return &MockClient{} }

func (m *MockClient) GenerateAnswer(_ context.Context, query string, contexts []string) (string, error) {
	if len(contexts) == 0 {
		return fmt.Sprintf("I don't have any relevant context to answer: %q", query), nil
	}
	return fmt.Sprintf("Based on %d retrieved passage(s), here is what I found relevant to %q:\n\n%s",
		len(contexts), query, strings.Join(contexts, "\n---\n")), nil
}

var _ Client = (*MockClient)(nil)
