// Package evaluation is the HTTP adapter for variable extraction and policy evaluation.
package evaluation

import (
	"context"
	"net/http"

	"github.com/custodia-labs/speccheck/internal/adapters/driven/apiclient"
	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.EvaluationService = (*Client)(nil)

// Client talks to the evaluation service:
//
//	POST /v1/variable-extractions  proposal + variables -> bindings
//	POST /v1/evaluations           policy + premises -> verdict
type Client struct {
	api *apiclient.Client
}

// New creates an evaluation client on top of an API client.
func New(api *apiclient.Client) *Client {
	return &Client{api: api}
}

type proposalPayload struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	// Content is base64 encoded on the wire
	Content []byte `json:"content"`
}

type extractRequest struct {
	PolicyID  string            `json:"policy_id"`
	Variables []domain.Variable `json:"variables"`
	Proposal  proposalPayload   `json:"proposal"`
}

type extractResponse struct {
	Bindings []domain.Binding `json:"bindings"`
}

type premise struct {
	Variable string `json:"variable"`
	Value    string `json:"value"`
}

type evaluateRequest struct {
	PolicyID string    `json:"policy_id"`
	Premises []premise `json:"premises"`
}

// ExtractVariables asks for values of the policy's bindable variables. The
// result has exactly one binding per variable, in policy order; variables the
// service left out are unbound.
func (c *Client) ExtractVariables(ctx context.Context, proposal domain.Source, policy *domain.Policy) ([]domain.Binding, error) {
	vars := policy.BindableVariables()
	req := extractRequest{
		PolicyID:  policy.ID,
		Variables: vars,
		Proposal:  proposalPayload{Name: proposal.Name, MimeType: proposal.MimeType, Content: proposal.Content},
	}

	var resp extractResponse
	if err := c.api.Do(ctx, "extract variables", http.MethodPost, "/v1/variable-extractions", nil, req, &resp); err != nil {
		return nil, err
	}

	byName := make(map[string]domain.Binding, len(resp.Bindings))
	for _, b := range resp.Bindings {
		if _, seen := byName[b.Variable]; !seen {
			byName[b.Variable] = b
		}
	}
	out := make([]domain.Binding, len(vars))
	for i, v := range vars {
		b := byName[v.Name]
		out[i] = domain.Binding{Variable: v.Name, Value: b.Value, Source: proposal.Name}
	}
	return out, nil
}

// Evaluate sends only bound variables as premises.
func (c *Client) Evaluate(ctx context.Context, policy *domain.Policy, bindings []domain.Binding) (*domain.Evaluation, error) {
	req := evaluateRequest{PolicyID: policy.ID, Premises: []premise{}}
	for _, b := range bindings {
		if !b.Bound() || b.Variable == domain.ComplianceVariable {
			continue
		}
		req.Premises = append(req.Premises, premise{Variable: b.Variable, Value: *b.Value})
	}

	var ev domain.Evaluation
	if err := c.api.Do(ctx, "evaluate", http.MethodPost, "/v1/evaluations", nil, req, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
