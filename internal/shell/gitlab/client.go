// Package gitlab wraps the GitLab v4 API client with the group, project, raw
// file and tag lookups needed to locate and version the applications being
// released.
package gitlab

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	glapi "gitlab.com/gitlab-org/api/client-go"
)

// DefaultURL is used when no instance URL is configured.
const DefaultURL = "https://gitlab.com"

// tagsPerPage is the page size of tag listings.
const tagsPerPage = 100

// Client provides methods for interacting with the GitLab API.
type Client struct {
	baseURL string
	api     *glapi.Client
	logger  *slog.Logger
}

// Config holds GitLab client configuration.
type Config struct {
	URL     string // instance URL, e.g. "https://git.example.com"
	Token   string // personal or group access token
	Timeout time.Duration

	// Retries is how many times a rate-limited or failed (5xx) call is
	// retried. Zero disables retries.
	Retries int
}

// NewClient creates a new GitLab client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	base := strings.TrimRight(cfg.URL, "/")
	if base == "" {
		base = DefaultURL
	}

	opts := []glapi.ClientOptionFunc{
		glapi.WithBaseURL(base),
		glapi.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if cfg.Retries > 0 {
		opts = append(opts, glapi.WithCustomRetryMax(cfg.Retries))
	} else {
		opts = append(opts, glapi.WithoutRetries())
	}

	api, err := glapi.NewClient(cfg.Token, opts...)
	if err != nil {
		return nil, NewAPIError("NewClient", base, 0, "create client", err)
	}

	return &Client{
		baseURL: base,
		api:     api,
		logger:  logger.With("component", "gitlab"),
	}, nil
}

// URL returns the instance URL.
func (c *Client) URL() string {
	return c.baseURL
}

// =============================================================================
// Types
// =============================================================================

// Group is a GitLab group. Projects of the releaser map to groups.
type Group struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	FullPath string `json:"full_path"`
}

// Project is a GitLab project. Applications of the releaser map to projects.
type Project struct {
	ID                int    `json:"id"`
	Name              string `json:"name"`
	Path              string `json:"path"`
	PathWithNamespace string `json:"path_with_namespace"`
	DefaultBranch     string `json:"default_branch"`
	HTTPURLToRepo     string `json:"http_url_to_repo"`
}

// Tag is a repository tag.
type Tag struct {
	Name   string `json:"name"`
	Commit struct {
		ID string `json:"id"`
	} `json:"commit"`
}

// =============================================================================
// Lookups
// =============================================================================

// FindGroup returns the group with the given path, or nil when there is none.
func (c *Client) FindGroup(ctx context.Context, path string) (*Group, error) {
	g, resp, err := c.api.Groups.GetGroup(path, &glapi.GetGroupOptions{
		WithProjects: glapi.Ptr(false),
	}, glapi.WithContext(ctx))
	if err != nil {
		if notFound(resp) {
			return nil, nil
		}
		return nil, apiError("FindGroup", "groups/"+path, resp, err)
	}

	return &Group{ID: int(g.ID), Name: g.Name, Path: g.Path, FullPath: g.FullPath}, nil
}

// SearchProjects searches projects by path, including their namespaces.
func (c *Client) SearchProjects(ctx context.Context, path string) ([]Project, error) {
	found, resp, err := c.api.Projects.ListProjects(&glapi.ListProjectsOptions{
		Search:           glapi.Ptr(path),
		SearchNamespaces: glapi.Ptr(true),
		Simple:           glapi.Ptr(true),
	}, glapi.WithContext(ctx))
	if err != nil {
		return nil, apiError("SearchProjects", "projects", resp, err)
	}

	projects := make([]Project, 0, len(found))
	for _, p := range found {
		projects = append(projects, Project{
			ID:                int(p.ID),
			Name:              p.Name,
			Path:              p.Path,
			PathWithNamespace: p.PathWithNamespace,
			DefaultBranch:     p.DefaultBranch,
			HTTPURLToRepo:     p.HTTPURLToRepo,
		})
	}
	return projects, nil
}

// RawFile returns the content of path at ref, or nil when the file or ref
// does not exist.
func (c *Client) RawFile(ctx context.Context, projectID int, path, ref string) ([]byte, error) {
	data, resp, err := c.api.RepositoryFiles.GetRawFile(projectID, path, &glapi.GetRawFileOptions{
		Ref: glapi.Ptr(ref),
	}, glapi.WithContext(ctx))
	if err != nil {
		if notFound(resp) {
			return nil, nil
		}
		return nil, apiError("RawFile", path, resp, err)
	}
	return data, nil
}

// Tags lists every tag of a project, most recently updated first. Pages are
// followed while the server announces a next page and stop at the first
// empty one.
func (c *Client) Tags(ctx context.Context, projectID int) ([]Tag, error) {
	opt := &glapi.ListTagsOptions{
		ListOptions: glapi.ListOptions{PerPage: tagsPerPage, Page: 1},
		OrderBy:     glapi.Ptr("updated"),
		Sort:        glapi.Ptr("desc"),
	}

	var all []Tag
	for {
		page, resp, err := c.api.Tags.ListTags(projectID, opt, glapi.WithContext(ctx))
		if err != nil {
			return nil, apiError("Tags", "projects/tags", resp, err)
		}
		if len(page) == 0 {
			break
		}
		for _, t := range page {
			tag := Tag{Name: t.Name}
			if t.Commit != nil {
				tag.Commit.ID = t.Commit.ID
			}
			all = append(all, tag)
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}

	c.logger.Debug("tags listed", "project", projectID, "count", len(all))
	return all, nil
}

// =============================================================================
// Helpers
// =============================================================================

func notFound(resp *glapi.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusNotFound
}

// apiError converts a client error into an APIError carrying the HTTP status
// and the server's message.
func apiError(op, resource string, resp *glapi.Response, err error) error {
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	var errResp *glapi.ErrorResponse
	if errors.As(err, &errResp) {
		return NewAPIError(op, resource, status, errResp.Message, nil)
	}
	return NewAPIError(op, resource, status, "request failed", err)
}
