// Package reasoning is the HTTP adapter for the policy reasoning service.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/custodia-labs/speccheck/internal/adapters/driven/apiclient"
	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ReasoningService = (*Client)(nil)

// maxPages guards ListPolicies against a service that never stops paginating.
const maxPages = 1000

// Client talks to the reasoning service REST API:
//
//	POST   /v1/policy-builds           submit a section, returns {job_id}
//	GET    /v1/policy-builds/{job_id}  build state
//	PUT    /v1/policies/{id}/tags      replace the policy tags
//	GET    /v1/policies?tag.document_id=...&next_token=...
//	DELETE /v1/policies/{id}
type Client struct {
	api *apiclient.Client
}

// New creates a reasoning client on top of an API client.
func New(api *apiclient.Client) *Client {
	return &Client{api: api}
}

type createRequest struct {
	Title    string            `json:"title"`
	Markdown string            `json:"markdown"`
	Tags     map[string]string `json:"tags"`
}

type createResponse struct {
	JobID string `json:"job_id"`
}

type buildResponse struct {
	JobID     string   `json:"job_id"`
	SectionID string   `json:"section_id"`
	Status    string   `json:"status"`
	PolicyIDs []string `json:"policy_ids"`
	Error     string   `json:"error"`
}

type tagsRequest struct {
	Tags map[string]string `json:"tags"`
}

type listResponse struct {
	Policies  []*domain.Policy `json:"policies"`
	NextToken string           `json:"next_token"`
}

// CreatePolicy submits the section text with its label as tags.
func (c *Client) CreatePolicy(ctx context.Context, draft domain.PolicyDraft) (string, error) {
	req := createRequest{Title: draft.Title, Markdown: draft.Markdown, Tags: draft.Label.Tags()}
	var resp createResponse
	if err := c.api.Do(ctx, "create policy", http.MethodPost, "/v1/policy-builds", nil, req, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", &domain.ExternalServiceError{Op: "create policy", Err: errors.New("response has no job_id")}
	}
	return resp.JobID, nil
}

// GetBuildJob maps the service's build state onto domain job statuses.
func (c *Client) GetBuildJob(ctx context.Context, jobID string) (*domain.PolicyBuildJob, error) {
	var resp buildResponse
	path := "/v1/policy-builds/" + url.PathEscape(jobID)
	if err := c.api.Do(ctx, "get build job", http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}

	status, err := parseStatus(resp.Status)
	if err != nil {
		return nil, &domain.ExternalServiceError{Op: "get build job", Err: err}
	}
	return &domain.PolicyBuildJob{
		JobID:     jobID,
		SectionID: resp.SectionID,
		Status:    status,
		PolicyIDs: resp.PolicyIDs,
		Error:     resp.Error,
	}, nil
}

// parseStatus accepts the service's workflow states. Intermediate states
// such as QUEUED or SCHEDULED count as pending.
func parseStatus(s string) (domain.JobStatus, error) {
	switch s {
	case "PENDING", "QUEUED", "SCHEDULED", "CREATED":
		return domain.JobStatusPending, nil
	case "RUNNING", "IN_PROGRESS", "BUILDING":
		return domain.JobStatusRunning, nil
	case "SUCCEEDED", "COMPLETED":
		return domain.JobStatusSucceeded, nil
	case "FAILED", "CANCELLED":
		return domain.JobStatusFailed, nil
	default:
		return "", fmt.Errorf("unknown build status %q", s)
	}
}

// TagPolicy replaces the policy tags with the label.
func (c *Client) TagPolicy(ctx context.Context, policyID string, label domain.PolicyLabel) error {
	path := "/v1/policies/" + url.PathEscape(policyID) + "/tags"
	return c.api.Do(ctx, "tag policy", http.MethodPut, path, nil, tagsRequest{Tags: label.Tags()}, nil)
}

// ListPolicies follows next_token until the last page.
func (c *Client) ListPolicies(ctx context.Context, documentID string) ([]*domain.Policy, error) {
	var all []*domain.Policy
	token := ""
	for page := 0; page < maxPages; page++ {
		q := url.Values{"tag." + domain.TagDocumentID: {documentID}}
		if token != "" {
			q.Set("next_token", token)
		}

		var resp listResponse
		if err := c.api.Do(ctx, "list policies", http.MethodGet, "/v1/policies", q, nil, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Policies...)

		if resp.NextToken == "" {
			return all, nil
		}
		token = resp.NextToken
	}
	return nil, &domain.ExternalServiceError{Op: "list policies", Err: fmt.Errorf("more than %d pages", maxPages)}
}

// DeletePolicy removes a policy; a policy that is already gone counts as deleted.
func (c *Client) DeletePolicy(ctx context.Context, policyID string) error {
	err := c.api.Do(ctx, "delete policy", http.MethodDelete, "/v1/policies/"+url.PathEscape(policyID), nil, nil, nil)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}
