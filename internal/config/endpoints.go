package config

import (
	"fmt"
	"hookq/internal/domain"
	"os"

	"gopkg.in/yaml.v3"
)

type endpointFile struct {
	Endpoints []endpointEntry `yaml:"endpoints"`
}

type endpointEntry struct {
	domain.Endpoint `yaml:",inline"`
	Active          *bool `yaml:"active"`
}

// LoadEndpoints reads a YAML endpoint registry file. Endpoints default to
// active and to the standard webhook retry policy.
func LoadEndpoints(path string) ([]domain.Endpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading endpoints file: %w", err)
	}

	var f endpointFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing endpoints file %s: %w", path, err)
	}

	out := make([]domain.Endpoint, 0, len(f.Endpoints))
	for i, e := range f.Endpoints {
		ep := e.Endpoint
		if ep.ID == "" || ep.URL == "" {
			return nil, fmt.Errorf("endpoint #%d: id and url are required", i)
		}
		for _, t := range ep.Events {
			if !t.Valid() {
				return nil, fmt.Errorf("endpoint %s: %w: %q", ep.ID, domain.ErrUnknownEventType, t)
			}
		}
		ep.Active = e.Active == nil || *e.Active
		if ep.RetryPolicy == (domain.WebhookRetryPolicy{}) {
			ep.RetryPolicy = domain.DefaultWebhookRetryPolicy()
		}
		if ep.Headers == nil {
			ep.Headers = map[string]string{}
		}
		out = append(out, ep)
	}
	return out, nil
}
