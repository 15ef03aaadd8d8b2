package outline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/outline-bot/subscription-service/internal/domain/ports"
	pkgerrors "github.com/outline-bot/subscription-service/pkg/errors"
	"github.com/outline-bot/subscription-service/pkg/observability"
	"github.com/outline-bot/subscription-service/pkg/resilience"
)

// Client talks to the Outline server management API. The server presents a
// self-signed certificate, so trust is established by comparing the peer
// certificate's SHA-256 fingerprint against the pinned value from the
// installer output.
type Client struct {
	apiURL     string
	certSHA256 string
	httpClient *http.Client
	timeouts   *resilience.TimeoutConfig
	logger     ports.Logger
}

// NewClient creates an Outline API client. apiURL is the full management URL
// including the secret path prefix; certSHA256 is the hex fingerprint, empty
// to skip pinning.
func NewClient(apiURL, certSHA256 string, httpClient *http.Client, timeouts *resilience.TimeoutConfig, logger ports.Logger) *Client {
	return &Client{
		apiURL:     strings.TrimRight(apiURL, "/"),
		certSHA256: strings.ToLower(strings.ReplaceAll(certSHA256, ":", "")),
		httpClient: httpClient,
		timeouts:   timeouts,
		logger:     logger,
	}
}

type accessKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AccessURL string `json:"accessUrl"`
}

type transferMetricsResponse struct {
	BytesTransferredByUserID map[string]int64 `json:"bytesTransferredByUserId"`
}

// CreateKey mints a new access key and names it
func (c *Client) CreateKey(ctx context.Context, name string) (*ports.AccessKey, error) {
	body, _ := json.Marshal(map[string]string{"name": name})

	var key accessKeyResponse
	err := c.do(ctx, "create_key", http.MethodPost, "/access-keys", body, &key)
	if err != nil {
		return nil, err
	}
	c.logger.Info("vpn key created",
		ports.String("key_id", key.ID),
		ports.String("name", name))
	return &ports.AccessKey{ID: key.ID, AccessURL: key.AccessURL}, nil
}

// DeleteKey destroys a remote key. A 404 means the key is already gone and is
// treated as success so teardown stays idempotent.
func (c *Client) DeleteKey(ctx context.Context, id string) error {
	err := c.do(ctx, "delete_key", http.MethodDelete, "/access-keys/"+id, nil, nil)
	if err != nil {
		var pe *pkgerrors.ProvisionerError
		if errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound {
			c.logger.Warn("vpn key already absent", ports.String("key_id", id))
			return nil
		}
		return err
	}
	c.logger.Info("vpn key deleted", ports.String("key_id", id))
	return nil
}

// TransferMetrics returns transferred bytes per key id
func (c *Client) TransferMetrics(ctx context.Context) (map[string]int64, error) {
	var metrics transferMetricsResponse
	err := c.do(ctx, "transfer_metrics", http.MethodGet, "/metrics/transfer", nil, &metrics)
	if err != nil {
		return nil, err
	}
	if metrics.BytesTransferredByUserID == nil {
		return map[string]int64{}, nil
	}
	return metrics.BytesTransferredByUserID, nil
}

// do runs one API call with exponential backoff inside the total VPN budget.
// Transport failures and 5xx responses are retried; other statuses fail fast.
// Each call counts once in the provisioner metric, after retries resolve.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	ctx, cancel := c.timeouts.VPNContext(ctx)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second

	attempt := func() error {
		err := c.attempt(ctx, op, method, path, body, out)
		if err != nil {
			var pe *pkgerrors.ProvisionerError
			if errors.As(err, &pe) && !pe.Retriable {
				return backoff.Permanent(err)
			}
			c.logger.Warn("vpn api attempt failed",
				ports.String("op", op),
				ports.Err(err))
		}
		return err
	}
	err := backoff.Retry(attempt, backoff.WithContext(bo, ctx))
	if err != nil {
		observability.RecordProvisionerCall(op, "error")
		return err
	}
	observability.RecordProvisionerCall(op, "ok")
	return nil
}

func (c *Client) attempt(ctx context.Context, op, method, path string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.VPNAttempt)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, reader)
	if err != nil {
		return pkgerrors.NewProvisionerError(op, 0, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.NewProvisionerError(op, 0, "transport failure", err)
	}
	defer resp.Body.Close()

	if err := c.verifyPin(resp); err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return pkgerrors.NewProvisionerError(op, resp.StatusCode, strings.TrimSpace(string(msg)), nil)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return pkgerrors.NewProvisionerError(op, 0, "decode response", err)
		}
	}
	return nil
}

// verifyPin checks the presented leaf certificate against the pinned
// fingerprint. Plain HTTP (tests) and an empty pin skip verification.
func (c *Client) verifyPin(resp *http.Response) error {
	if c.certSHA256 == "" || resp.TLS == nil || len(resp.TLS.PeerCertificates) == 0 {
		return nil
	}
	sum := sha256.Sum256(resp.TLS.PeerCertificates[0].Raw)
	if hex.EncodeToString(sum[:]) != c.certSHA256 {
		return backoff.Permanent(pkgerrors.NewProvisionerError(
			"cert_pin", 0, "certificate fingerprint mismatch", nil))
	}
	return nil
}

var _ ports.KeyProvisioner = (*Client)(nil)
