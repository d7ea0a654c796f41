package authclient

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/noteforge/noteforge/internal/models"
	appErrors "github.com/noteforge/noteforge/pkg/errors"
)

// StatusClient queries the auth service for the lifecycle state of a refresh
// credential. It is the stateful complement to LocalValidator: signature
// checks stay local, revocation questions go to the source of truth.
type StatusClient struct {
	base   string
	client *http.Client
}

// NewStatusClient builds a client against the auth service base URL.
func NewStatusClient(baseURL string, timeout time.Duration) *StatusClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &StatusClient{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

type statusEnvelope struct {
	Data struct {
		CredentialID string                  `json:"credential_id"`
		Status       models.CredentialStatus `json:"status"`
	} `json:"data"`
}

// Status fetches the revocation state of the given credential id. Transport
// failures and non-200 answers surface as SERVICE_UNAVAILABLE so callers
// never confuse an outage with a revoked credential.
func (c *StatusClient) Status(ctx context.Context, credentialID string) (models.CredentialStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/internal/revocation/"+credentialID, nil)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build status request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "auth service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", appErrors.Clone(appErrors.ErrUnavailable, "auth service returned unexpected status")
	}

	var envelope statusEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to decode status response")
	}
	if envelope.Data.Status == "" {
		return "", appErrors.Clone(appErrors.ErrUnavailable, "auth service returned empty status")
	}
	return envelope.Data.Status, nil
}
