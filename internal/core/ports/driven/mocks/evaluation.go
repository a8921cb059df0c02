package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/speccheck/internal/core/domain"
)

// MockEvaluationService is a configurable EvaluationService for testing.
// Values maps proposal name -> variable name -> value; variables not listed are unbound.
type MockEvaluationService struct {
	mu sync.Mutex

	Values map[string]map[string]string

	// Verdict returned by Evaluate (default VALID)
	Verdict domain.Verdict

	// Custom behavior hooks (optional)
	ExtractFn  func(proposal domain.Source, policy *domain.Policy) ([]domain.Binding, error)
	EvaluateFn func(policy *domain.Policy, bindings []domain.Binding) (*domain.Evaluation, error)

	extractCalls  int
	evaluateCalls int
}

// NewMockEvaluationService creates a new MockEvaluationService
func NewMockEvaluationService() *MockEvaluationService {
	return &MockEvaluationService{
		Values:  make(map[string]map[string]string),
		Verdict: domain.VerdictValid,
	}
}

func (m *MockEvaluationService) ExtractVariables(ctx context.Context, proposal domain.Source, policy *domain.Policy) ([]domain.Binding, error) {
	m.mu.Lock()
	m.extractCalls++
	m.mu.Unlock()

	if m.ExtractFn != nil {
		return m.ExtractFn(proposal, policy)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	values := m.Values[proposal.Name]
	bindings := make([]domain.Binding, 0, len(policy.Variables))
	for _, v := range policy.BindableVariables() {
		b := domain.Binding{Variable: v.Name, Source: proposal.Name}
		if val, ok := values[v.Name]; ok {
			val := val
			b.Value = &val
		}
		bindings = append(bindings, b)
	}
	return bindings, nil
}

func (m *MockEvaluationService) Evaluate(ctx context.Context, policy *domain.Policy, bindings []domain.Binding) (*domain.Evaluation, error) {
	m.mu.Lock()
	m.evaluateCalls++
	m.mu.Unlock()

	if m.EvaluateFn != nil {
		return m.EvaluateFn(policy, bindings)
	}
	return &domain.Evaluation{Verdict: m.Verdict}, nil
}

// ExtractCalls returns the number of ExtractVariables calls.
func (m *MockEvaluationService) ExtractCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extractCalls
}

// EvaluateCalls returns the number of Evaluate calls.
func (m *MockEvaluationService) EvaluateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evaluateCalls
}
