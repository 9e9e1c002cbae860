package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maulikganatra-bit/ai-compliance-check/pkg/config"
)

// ErrNotFound reports that the registry has no prompt under the requested
// name or version.
var ErrNotFound = errors.New("prompt not found")

const (
	maxRegistryResponse = 4 << 20
	registryTimeout     = 15 * time.Second
)

// Client fetches prompts from the remote registry over HTTP.
type Client struct {
	baseURL  string
	apiKey   string
	pageSize int
	http     *http.Client
	replica  *Replica
	logger   *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithReplica attaches a local store receiving a best-effort copy of every
// prompt version fetched from the registry.
func WithReplica(r *Replica) ClientOption {
	return func(c *Client) { c.replica = r }
}

// WithClientHTTP overrides the underlying HTTP client.
func WithClientHTTP(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// NewClient builds a registry client from configuration.
func NewClient(cfg *config.Config, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(cfg.Registry.BaseURL, "/"),
		apiKey:   cfg.RegistryAPIKey(),
		pageSize: cfg.Registry.PageSize,
		http:     &http.Client{Timeout: registryTimeout},
		logger:   slog.With("component", "registry"),
	}
	if c.pageSize <= 0 {
		c.pageSize = 50
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// promptPayload is the registry's wire representation of one prompt
// version.
type promptPayload struct {
	Prompt        string          `json:"prompt"`
	Config        json.RawMessage `json:"config"`
	Version       int             `json:"version"`
	Labels        []string        `json:"labels"`
	UpdatedAt     string          `json:"updated_at"`
	CreatedAt     string          `json:"created_at"`
	CreatedBy     string          `json:"created_by"`
	CommitMessage string          `json:"commit_message"`
}

type promptListPage struct {
	Data []struct {
		Name string `json:"name"`
	} `json:"data"`
	Meta struct {
		TotalItems *int `json:"total_items"`
	} `json:"meta"`
}

// Fetch retrieves one prompt by registry name. Version 0 requests the
// latest; a positive version pins an exact one. A successful fetch is also
// copied into the replica store asynchronously when one is attached.
func (c *Client) Fetch(ctx context.Context, name string, version int) (*Entry, error) {
	payload, err := c.fetchPayload(ctx, name, version)
	if err != nil {
		return nil, err
	}
	c.replicate(name, payload)
	return c.entryFromPayload(name, payload), nil
}

func (c *Client) entryFromPayload(name string, p *promptPayload) *Entry {
	e := &Entry{Name: name, Text: p.Prompt, Version: p.Version}
	if len(p.Config) > 0 && string(p.Config) != "null" {
		if err := json.Unmarshal(p.Config, &e.Config); err != nil {
			c.logger.Warn("Ignoring unparseable prompt config", "prompt", name, "error", err)
			e.Config = PromptConfig{}
		}
	}
	return e
}

func (c *Client) fetchPayload(ctx context.Context, name string, version int) (*promptPayload, error) {
	u := fmt.Sprintf("%s/api/public/v2/prompts/%s", c.baseURL, url.PathEscape(name))
	if version > 0 {
		u += fmt.Sprintf("?version=%d", version)
	}

	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	var payload promptPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode registry response for %s: %w", name, err)
	}
	return &payload, nil
}

// get performs one registry GET, mapping 404 to ErrNotFound.
func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build registry request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRegistryResponse))
	if err != nil {
		return nil, fmt.Errorf("failed to read registry response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, u)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}
	return body, nil
}

// ListNames walks the registry's paginated prompt listing and returns every
// prompt name. When the listing reports no total count, the walk stops at
// the first empty page.
func (c *Client) ListNames(ctx context.Context) ([]string, error) {
	var names []string
	c.logger.Info("Listing registry prompts")

	for page := 1; ; page++ {
		u := fmt.Sprintf("%s/api/public/v2/prompts?page=%d&limit=%d", c.baseURL, page, c.pageSize)
		body, err := c.get(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("failed to list registry prompts: %w", err)
		}

		var pl promptListPage
		if err := json.Unmarshal(body, &pl); err != nil {
			return nil, fmt.Errorf("failed to decode registry listing: %w", err)
		}
		for _, d := range pl.Data {
			names = append(names, d.Name)
		}

		if total := pl.Meta.TotalItems; total != nil {
			if page*c.pageSize >= *total {
				break
			}
		} else if len(pl.Data) == 0 {
			break
		}
	}

	c.logger.Info("Registry listing complete", "prompts", len(names))
	return names, nil
}

// SyncResult summarises one full replica synchronisation.
type SyncResult struct {
	PromptsSeen  int `json:"prompts_seen"`
	VersionsSeen int `json:"versions_seen"`
	Inserted     int `json:"inserted"`
	Skipped      int `json:"skipped"`
}

// SyncReplica walks every prompt in the registry, ascending through its
// versions until not-found, and inserts the versions missing from the local
// replica. Versions already replicated are skipped without a fetch.
func (c *Client) SyncReplica(ctx context.Context) (*SyncResult, error) {
	if c.replica == nil {
		return nil, errors.New("no replica store configured")
	}

	names, err := c.ListNames(ctx)
	if err != nil {
		return nil, err
	}
	existing, err := c.replica.Entries(ctx)
	if err != nil {
		return nil, err
	}

	res := &SyncResult{PromptsSeen: len(names)}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		for version := 1; ; version++ {
			if _, ok := existing[ReplicaKey{Name: name, Version: version}]; ok {
				res.VersionsSeen++
				res.Skipped++
				continue
			}

			payload, err := c.fetchPayload(ctx, name, version)
			if errors.Is(err, ErrNotFound) {
				break
			}
			if err != nil {
				c.logger.Warn("Stopping version walk", "prompt", name, "version", version, "error", err)
				break
			}
			res.VersionsSeen++

			inserted, err := c.replica.StoreIfNew(ctx, recordFromPayload(name, payload))
			if err != nil {
				c.logger.Warn("Failed to replicate prompt", "prompt", name, "version", payload.Version, "error", err)
				continue
			}
			if inserted {
				res.Inserted++
			} else {
				res.Skipped++
			}
		}
	}

	c.logger.Info("Replica sync complete",
		"prompts_seen", res.PromptsSeen,
		"versions_seen", res.VersionsSeen,
		"inserted", res.Inserted,
		"skipped", res.Skipped)
	return res, nil
}

func recordFromPayload(name string, p *promptPayload) ReplicaRecord {
	rec := ReplicaRecord{
		Name:          name,
		Version:       p.Version,
		Text:          p.Prompt,
		UpdatedAt:     p.UpdatedAt,
		CreatedAt:     p.CreatedAt,
		CreatedBy:     p.CreatedBy,
		CommitMessage: p.CommitMessage,
		Config:        string(p.Config),
	}
	if len(p.Labels) > 0 {
		if b, err := json.Marshal(p.Labels); err == nil {
			rec.Labels = string(b)
		}
	}
	return rec
}

// replicate copies one fetched prompt version into the local store without
// blocking the caller. Failures are logged and dropped.
func (c *Client) replicate(name string, p *promptPayload) {
	if c.replica == nil {
		return
	}
	rec := recordFromPayload(name, p)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := c.replica.StoreIfNew(ctx, rec); err != nil {
			c.logger.Warn("Failed to replicate prompt", "prompt", rec.Name, "version", rec.Version, "error", err)
		}
	}()
}
