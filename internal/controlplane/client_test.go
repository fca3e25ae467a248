//go:build unit

package controlplane

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_BuildsClient(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test-key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test-secret")

	c, err := New("analysis-api.example.internal", "/policies", "us-east-1")
	assert.NoError(t, err)
	assert.NotNil(t, c)
	assert.Equal(t, "analysis-api.example.internal", c.fqdn)
	assert.Equal(t, "/policies", c.path)
}

// TestRulesResponse_ParsesResourceTypesWithNoEnabledField guards against the
// wire-shape mismatch the spec calls out: the analysis-api's own
// "enabled?type=RULE" endpoint already scopes its response to enabled
// rules, it never sends an "enabled" flag, and it names the log-type list
// "resourceTypes" rather than "logTypes".
func TestRulesResponse_ParsesResourceTypesWithNoEnabledField(t *testing.T) {
	raw := `{"policies":[{"id":"r1","body":"rule: true","versionId":"v1","resourceTypes":["AWS.CloudTrail","AWS.S3"]}]}`

	var parsed rulesResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &parsed))

	require.Len(t, parsed.Policies, 1)
	assert.Equal(t, []string{"AWS.CloudTrail", "AWS.S3"}, parsed.Policies[0].LogTypes)
}
