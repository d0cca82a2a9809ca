// Package deposit talks to the external record service that turns release
// archives into citable records.
package deposit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/arturoeanton/go-release-archiver/internal/domain"
	"github.com/arturoeanton/go-release-archiver/internal/port"
)

// metadataFilePath is the optional repository-supplied metadata file, read
// from the repository tree at the release tag.
const metadataFilePath = ".metadata.json"

// HTTPDepositor implements port.Depositor against the record service's REST
// API: create a draft record, upload the archive, publish.
type HTTPDepositor struct {
	baseURL        string
	archiveTimeout time.Duration
	httpClient     *http.Client
}

// NewHTTPDepositor creates a depositor for the record service at baseURL.
func NewHTTPDepositor(baseURL string, archiveTimeout time.Duration) *HTTPDepositor {
	return &HTTPDepositor{
		baseURL:        baseURL,
		archiveTimeout: archiveTimeout,
		httpClient:     &http.Client{Timeout: 60 * time.Second},
	}
}

// ProcessRelease deposits one release and returns the created record id.
func (d *HTTPDepositor) ProcessRelease(ctx context.Context, release port.ReleaseResource) (string, error) {
	metadata, err := d.buildMetadata(ctx, release)
	if err != nil {
		return "", err
	}

	recordID, err := d.createDraft(ctx, metadata)
	if err != nil {
		return "", err
	}

	fileName, err := release.FileName()
	if err != nil {
		return "", err
	}
	archive, err := release.FetchArchive(ctx)
	if err != nil {
		return "", err
	}
	err = d.uploadFile(ctx, recordID, fileName, archive)
	archive.Close()
	if err != nil {
		return "", err
	}

	if err := d.publish(ctx, recordID); err != nil {
		return "", err
	}
	return recordID, nil
}

// buildMetadata assembles the record metadata from the release, overlaying
// the repository-supplied metadata file when present.
func (d *HTTPDepositor) buildMetadata(ctx context.Context, release port.ReleaseResource) (map[string]any, error) {
	rel, repo, err := release.Generic()
	if err != nil {
		return nil, err
	}
	stored := release.Repository()

	title := fmt.Sprintf("%s: %s", stored.FullName, rel.TagName)
	if rel.Name != "" {
		title = fmt.Sprintf("%s: %s", stored.FullName, rel.Name)
	}
	description := rel.Body
	if description == "" {
		description = repo.Description
	}
	if description == "" {
		description = fmt.Sprintf("Release %s of %s.", rel.TagName, stored.FullName)
	}

	metadata := map[string]any{
		"title":       title,
		"description": description,
		"version":     rel.TagName,
		"related_url": rel.HTMLURL,
	}
	if stored.LicenseSPDX != "" {
		metadata["license"] = stored.LicenseSPDX
	}
	if rel.PublishedAt != nil {
		metadata["publication_date"] = rel.PublishedAt.Format("2006-01-02")
	}

	metadata["creators"] = d.creators(ctx, release, stored)

	// A metadata file in the repository overrides the derived fields. A file
	// that exists but does not parse is a terminal error: retrying cannot fix
	// the repository's content.
	extra, err := release.RemoteMetadataFile(ctx, metadataFilePath)
	if err != nil {
		return nil, err
	}
	if extra != nil {
		var overlay map[string]any
		if err := json.Unmarshal(extra, &overlay); err != nil {
			return nil, &port.InvalidMetadataError{File: metadataFilePath, Reason: err.Error()}
		}
		for k, v := range overlay {
			metadata[k] = v
		}
	}
	return metadata, nil
}

// creators derives the record's creator list from the contributor list,
// falling back to the repository owner, then to the bare repository name.
func (d *HTTPDepositor) creators(ctx context.Context, release port.ReleaseResource, stored *domain.Repository) []map[string]any {
	contributors, err := release.Contributors(ctx)
	if err == nil && len(contributors) > 0 {
		out := make([]map[string]any, 0, len(contributors))
		for _, c := range contributors {
			name := c.DisplayName
			if name == "" {
				name = c.Username
			}
			creator := map[string]any{"name": name}
			if c.Company != "" {
				creator["affiliation"] = c.Company
			}
			out = append(out, creator)
		}
		return out
	}

	if owner, err := release.Owner(ctx); err == nil && owner != nil {
		name := owner.DisplayName
		if name == "" {
			name = owner.PathName
		}
		return []map[string]any{{"name": name}}
	}
	return []map[string]any{{"name": stored.FullName}}
}

func (d *HTTPDepositor) createDraft(ctx context.Context, metadata map[string]any) (string, error) {
	payload, err := json.Marshal(map[string]any{"metadata": metadata})
	if err != nil {
		return "", fmt.Errorf("deposit: encode metadata: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("deposit: create draft request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("deposit: create draft: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("deposit: create draft failed (%d): %s", resp.StatusCode, string(body))
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("deposit: decode draft response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("deposit: draft response without id")
	}
	return created.ID, nil
}

func (d *HTTPDepositor) uploadFile(ctx context.Context, recordID, fileName string, body io.Reader) error {
	rawURL := fmt.Sprintf("%s/%s/files/%s", d.baseURL, url.PathEscape(recordID), url.PathEscape(fileName))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, rawURL, body)
	if err != nil {
		return fmt.Errorf("deposit: create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	// Archive uploads can be large; use the archive timeout instead of the
	// default API timeout.
	client := &http.Client{Timeout: d.archiveTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("deposit: upload archive: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("deposit: upload archive failed (%d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (d *HTTPDepositor) publish(ctx context.Context, recordID string) error {
	rawURL := fmt.Sprintf("%s/%s/actions/publish", d.baseURL, url.PathEscape(recordID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, nil)
	if err != nil {
		return fmt.Errorf("deposit: create publish request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deposit: publish: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("deposit: publish failed (%d): %s", resp.StatusCode, string(body))
	}
	return nil
}
