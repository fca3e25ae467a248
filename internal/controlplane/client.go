// Package controlplane fetches the current detection-rule set from the
// control-plane API, the same analysis-api the original engine polled, now
// reached over a v4-signed HTTPS GET the way the rest of the account's
// internal services authenticate to each other.
package controlplane

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/aws/signer/v4"

	"github.com/panther-labs/rules-engine/pkg/models"
)

// Client fetches RuleConfigs from the control-plane API.
type Client struct {
	fqdn       string
	path       string
	region     string
	httpClient *http.Client
	signer     *v4.Signer
}

type rulesResponse struct {
	Policies []models.RuleConfig `json:"policies"`
}

// New builds a Client, deriving its AWS v4 signing credentials from the
// process's standard credential chain (env vars, shared config, instance
// role) via aws-sdk-go's session package.
func New(fqdn, path, region string) (*Client, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}

	return &Client{
		fqdn:       fqdn,
		path:       path,
		region:     region,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		signer:     v4.NewSigner(sess.Config.Credentials),
	}, nil
}

// enabledRulesSuffix is the fixed path/query the control-plane API expects
// on every rule-set fetch, regardless of how the base path is configured.
const enabledRulesSuffix = "/enabled?type=RULE"

// FetchRules retrieves the full, currently enabled rule set.
func (c *Client) FetchRules() ([]models.RuleConfig, error) {
	url := fmt.Sprintf("https://%s%s%s", c.fqdn, c.path, enabledRulesSuffix)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build analysis-api request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if _, err := c.signer.Sign(req, nil, "execute-api", c.region, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to sign analysis-api request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call analysis-api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read analysis-api response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analysis-api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed rulesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse analysis-api response: %w", err)
	}

	return parsed.Policies, nil
}
