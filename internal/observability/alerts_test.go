package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type ruleFile struct {
	Groups []struct {
		Name  string `yaml:"name"`
		Rules []struct {
			Alert       string            `yaml:"alert"`
			Expr        string            `yaml:"expr"`
			For         string            `yaml:"for"`
			Labels      map[string]string `yaml:"labels"`
			Annotations map[string]string `yaml:"annotations"`
		} `yaml:"rules"`
	} `yaml:"groups"`
}

var metricName = regexp.MustCompile(`\breplenish_[a-z_]+`)

func loadRules(t *testing.T) ruleFile {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "replenish.yml"))
	require.NoError(t, err)
	var rules ruleFile
	require.NoError(t, yaml.Unmarshal(data, &rules))
	require.Len(t, rules.Groups, 1)
	require.Equal(t, "replenishment", rules.Groups[0].Name)
	return rules
}

func TestReplenishmentAlertRules(t *testing.T) {
	rules := loadRules(t)

	severity := map[string]string{
		"RecalculationFailing": "critical",
		"ProductFailureSpike":  "warning",
		"HighErrorRate":        "critical",
	}
	require.Len(t, rules.Groups[0].Rules, len(severity))

	for _, rule := range rules.Groups[0].Rules {
		want, ok := severity[rule.Alert]
		require.True(t, ok, "unexpected rule %q", rule.Alert)
		require.Equal(t, want, rule.Labels["severity"], rule.Alert)
		require.NotEmpty(t, rule.Expr, rule.Alert)
		require.NotEmpty(t, rule.For, rule.Alert)
		require.NotEmpty(t, rule.Annotations["summary"], rule.Alert)
		require.NotEmpty(t, rule.Annotations["description"], rule.Alert)
		require.Regexp(t, `^docs/runbook-replenishment\.md#[a-z-]+$`, rule.Annotations["runbook"], rule.Alert)
	}
}

// Alert expressions must only query series the process actually exports.
func TestAlertRulesQueryExportedMetrics(t *testing.T) {
	rules := loadRules(t)

	m := NewMetrics()
	m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	_ = m.Jobs().Track("replenishment:recalculate").End(errors.New("boom"))
	m.Jobs().AddReplenishment(1, 0, 0, 1)

	families, err := m.registry.Gather()
	require.NoError(t, err)
	exported := make(map[string]bool, len(families))
	for _, mf := range families {
		exported[mf.GetName()] = true
	}

	for _, rule := range rules.Groups[0].Rules {
		names := metricName.FindAllString(rule.Expr, -1)
		require.NotEmpty(t, names, rule.Alert)
		for _, name := range names {
			require.True(t, exported[name], "%s queries unknown metric %s", rule.Alert, name)
		}
	}
}
