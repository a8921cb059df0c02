package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/speccheck/internal/core/domain"
)

// MockReasoningService simulates the policy service with asynchronous builds.
// Jobs complete after PollsToComplete polls; sections listed in FailSections fail.
type MockReasoningService struct {
	mu       sync.Mutex
	jobs     map[string]*mockJob
	policies map[string]*domain.Policy
	nextID   int

	// PollsToComplete is how many polls report RUNNING before the job ends
	PollsToComplete int

	// PoliciesPerSection is how many policies a successful build yields (default 1)
	PoliciesPerSection int

	// FailSections maps section IDs to a failure reason
	FailSections map[string]string

	// Custom behavior hooks (optional)
	CreatePolicyFn func(draft domain.PolicyDraft) (string, error)
	GetBuildJobFn  func(jobID string) (*domain.PolicyBuildJob, error)
	ListPoliciesFn func(documentID string) ([]*domain.Policy, error)
	DeletePolicyFn func(policyID string) error

	createCalls int
	pollCalls   int
	listCalls   int
	deleteCalls int
	submitted   map[string]int
}

type mockJob struct {
	draft  domain.PolicyDraft
	polls  int
	status domain.JobStatus
	ids    []string
}

// NewMockReasoningService creates a new MockReasoningService
func NewMockReasoningService() *MockReasoningService {
	return &MockReasoningService{
		jobs:               make(map[string]*mockJob),
		policies:           make(map[string]*domain.Policy),
		FailSections:       make(map[string]string),
		PoliciesPerSection: 1,
		submitted:          make(map[string]int),
	}
}

func (m *MockReasoningService) CreatePolicy(ctx context.Context, draft domain.PolicyDraft) (string, error) {
	m.mu.Lock()
	m.createCalls++
	m.mu.Unlock()

	if m.CreatePolicyFn != nil {
		return m.CreatePolicyFn(draft)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	jobID := fmt.Sprintf("job-%d", m.nextID)
	m.jobs[jobID] = &mockJob{draft: draft, status: domain.JobStatusPending}
	m.submitted[draft.Label.SectionID]++
	return jobID, nil
}

func (m *MockReasoningService) GetBuildJob(ctx context.Context, jobID string) (*domain.PolicyBuildJob, error) {
	m.mu.Lock()
	m.pollCalls++
	m.mu.Unlock()

	if m.GetBuildJobFn != nil {
		return m.GetBuildJobFn(jobID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, &domain.ExternalServiceError{Op: "get build job", StatusCode: 404, Err: domain.ErrNotFound}
	}
	sectionID := job.draft.Label.SectionID

	if !job.status.IsTerminal() {
		job.polls++
		if job.polls <= m.PollsToComplete {
			job.status = domain.JobStatusRunning
		} else if _, fail := m.FailSections[sectionID]; fail {
			job.status = domain.JobStatusFailed
		} else {
			job.status = domain.JobStatusSucceeded
			for i := 0; i < m.PoliciesPerSection; i++ {
				m.nextID++
				p := newMockPolicy(fmt.Sprintf("pol-%d", m.nextID), job.draft)
				m.policies[p.ID] = p
				job.ids = append(job.ids, p.ID)
			}
		}
	}

	out := &domain.PolicyBuildJob{
		JobID:     jobID,
		SectionID: sectionID,
		Status:    job.status,
		Attempts:  job.polls,
		PolicyIDs: append([]string(nil), job.ids...),
	}
	if job.status == domain.JobStatusFailed {
		out.Error = m.FailSections[sectionID]
	}
	return out, nil
}

func newMockPolicy(id string, draft domain.PolicyDraft) *domain.Policy {
	varName := "Param_" + draft.Label.SectionID
	return &domain.Policy{
		ID:             id,
		Name:           fmt.Sprintf("Ch%02d_%s", draft.Label.ChapterNumber, draft.Label.SectionID),
		Description:    draft.Title,
		DefinitionHash: domain.FingerprintString(draft.Markdown).Short(),
		Version:        "DRAFT",
		Tags:           map[string]string{},
		Variables: []domain.Variable{
			{Name: domain.ComplianceVariable, Type: domain.VariableType{Name: "BOOL"}},
			{Name: varName, Type: domain.VariableType{Name: "INT"}, Description: "parameter of " + draft.Title},
		},
		Rules: []domain.Rule{
			{ID: "r1", Expression: fmt.Sprintf("(=> %s (> %s 0))", domain.ComplianceVariable, varName),
				AlternateExpression: varName + " must be positive",
				Variables:           []string{domain.ComplianceVariable, varName}},
		},
	}
}

func (m *MockReasoningService) TagPolicy(ctx context.Context, policyID string, label domain.PolicyLabel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[policyID]
	if !ok {
		return &domain.ExternalServiceError{Op: "tag policy", StatusCode: 404, Err: domain.ErrNotFound}
	}
	for k, v := range label.Tags() {
		p.Tags[k] = v
	}
	return nil
}

func (m *MockReasoningService) ListPolicies(ctx context.Context, documentID string) ([]*domain.Policy, error) {
	m.mu.Lock()
	m.listCalls++
	m.mu.Unlock()

	if m.ListPoliciesFn != nil {
		return m.ListPoliciesFn(documentID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Policy
	for _, p := range m.policies {
		if p.Tags[domain.TagDocumentID] == documentID {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MockReasoningService) DeletePolicy(ctx context.Context, policyID string) error {
	m.mu.Lock()
	m.deleteCalls++
	m.mu.Unlock()

	if m.DeletePolicyFn != nil {
		return m.DeletePolicyFn(policyID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.policies, policyID)
	return nil
}

// AddPolicy stores a policy directly (for test setup).
func (m *MockReasoningService) AddPolicy(p *domain.Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Tags == nil {
		p.Tags = map[string]string{}
	}
	m.policies[p.ID] = p
}

// HasPolicy reports whether a policy exists.
func (m *MockReasoningService) HasPolicy(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.policies[id]
	return ok
}

// Policy returns a stored policy, or nil.
func (m *MockReasoningService) Policy(id string) *domain.Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policies[id]
}

// Submissions returns how many build jobs were created for a section.
func (m *MockReasoningService) Submissions(sectionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitted[sectionID]
}

// CreateCalls returns the number of CreatePolicy calls.
func (m *MockReasoningService) CreateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls
}

// PollCalls returns the number of GetBuildJob calls.
func (m *MockReasoningService) PollCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pollCalls
}

// ListCalls returns the number of ListPolicies calls.
func (m *MockReasoningService) ListCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

// DeleteCalls returns the number of DeletePolicy calls.
func (m *MockReasoningService) DeleteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteCalls
}

// TotalCalls returns the number of calls across all operations.
func (m *MockReasoningService) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls + m.pollCalls + m.listCalls + m.deleteCalls
}
