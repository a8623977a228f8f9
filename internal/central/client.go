package central

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/file-interrogator/internal/c4gh"
	"github.com/kenneth/file-interrogator/internal/transport"
)

// ErrRecipientKeyUnavailable indicates the central API is reachable
// but cannot supply a recipient key right now. Recoverable: the
// orchestrator retries the whole pipeline step later.
var ErrRecipientKeyUnavailable = errors.New("recipient public key unavailable from central API")

// APIError is returned when the central API answers with an
// unexpected status code.
type APIError struct {
	URL        string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("central API request to %s failed with status %d", e.URL, e.StatusCode)
}

// Config holds the settings for the central API client.
type Config struct {
	// BaseURL is the root URL of the central API.
	BaseURL string
	// PublicKey optionally pins the recipient public key (base64
	// X25519). When set, GetRecipientPublicKey returns it without a
	// network call; otherwise the key is fetched from the API.
	PublicKey string
	// AuthSecret signs the short-lived bearer tokens.
	AuthSecret []byte
	// StorageAlias identifies this data hub's inbox to the API.
	StorageAlias string
}

// Client talks to the central coordination API.
type Client struct {
	transport *transport.Client
	signer    *tokenSigner
	baseURL   string
	alias     string
	pinnedKey string
	logger    *logrus.Entry
}

// NewClient creates a central API client on top of the resilient
// transport.
func NewClient(cfg Config, rt *transport.Client, logger *logrus.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("central API base URL is required")
	}
	if len(cfg.AuthSecret) == 0 {
		return nil, errors.New("central API auth secret is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		transport: rt,
		signer:    newTokenSigner(cfg.AuthSecret, cfg.StorageAlias),
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		alias:     cfg.StorageAlias,
		pinnedKey: cfg.PublicKey,
		logger:    logger.WithField("component", "central"),
	}, nil
}

// authHeader builds a header with a freshly minted bearer token.
func (c *Client) authHeader() (http.Header, error) {
	token, err := c.signer.sign()
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return header, nil
}

// GetRecipientPublicKey resolves the X25519 public key headers are
// re-wrapped for. A key pinned in configuration short-circuits the
// lookup; otherwise the API is queried through the cache-first
// transport.
func (c *Client) GetRecipientPublicKey(ctx context.Context) ([32]byte, error) {
	if c.pinnedKey != "" {
		return c4gh.ParsePublicKey(c.pinnedKey)
	}

	var zero [32]byte
	url := fmt.Sprintf("%s/storages/%s/recipient-key", c.baseURL, c.alias)
	header, err := c.authHeader()
	if err != nil {
		return zero, err
	}

	resp, err := c.transport.Do(ctx, http.MethodGet, url, header, nil)
	if err != nil {
		return zero, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return zero, ErrRecipientKeyUnavailable
	default:
		return zero, &APIError{URL: url, StatusCode: resp.StatusCode}
	}

	var key RecipientKey
	if err := json.Unmarshal(resp.Body, &key); err != nil {
		return zero, fmt.Errorf("failed to parse recipient key response: %w", err)
	}
	if key.PublicKey == "" {
		return zero, ErrRecipientKeyUnavailable
	}

	c.logger.WithField("key_id", key.KeyID).Debug("Resolved recipient public key")
	return c4gh.ParsePublicKey(key.PublicKey)
}

// FetchNewUploads lists the files awaiting interrogation for this
// storage alias.
func (c *Client) FetchNewUploads(ctx context.Context) ([]FileUpload, error) {
	url := fmt.Sprintf("%s/storages/%s/uploads", c.baseURL, c.alias)
	header, err := c.authHeader()
	if err != nil {
		return nil, err
	}

	resp, err := c.transport.Do(ctx, http.MethodGet, url, header, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{URL: url, StatusCode: resp.StatusCode}
	}

	var uploads []FileUpload
	if err := json.Unmarshal(resp.Body, &uploads); err != nil {
		return nil, fmt.Errorf("failed to parse uploads response: %w", err)
	}
	return uploads, nil
}

// ReportOutcome posts one interrogation report. The API acknowledges
// with 201.
func (c *Client) ReportOutcome(ctx context.Context, report *InterrogationReport) error {
	url := c.baseURL + "/interrogation-reports"
	header, err := c.authHeader()
	if err != nil {
		return err
	}
	header.Set("Content-Type", "application/json")

	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode interrogation report: %w", err)
	}

	resp, err := c.transport.Do(ctx, http.MethodPost, url, header, body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusCreated {
		return &APIError{URL: url, StatusCode: resp.StatusCode}
	}

	c.logger.WithFields(logrus.Fields{
		"file_id": report.FileID,
		"status":  report.Status,
	}).Info("Submitted interrogation report")
	return nil
}

// CanRemove asks which of the given files may be removed from the
// interrogation bucket.
func (c *Client) CanRemove(ctx context.Context, fileIDs []string) ([]string, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}

	params := make([]string, 0, len(fileIDs))
	for _, id := range fileIDs {
		params = append(params, "file_id="+id)
	}
	url := fmt.Sprintf("%s/uploads/can-remove?%s", c.baseURL, strings.Join(params, "&"))
	header, err := c.authHeader()
	if err != nil {
		return nil, err
	}

	resp, err := c.transport.Do(ctx, http.MethodGet, url, header, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{URL: url, StatusCode: resp.StatusCode}
	}

	var removable []string
	if err := json.Unmarshal(resp.Body, &removable); err != nil {
		return nil, fmt.Errorf("failed to parse removable files response: %w", err)
	}
	return removable, nil
}
