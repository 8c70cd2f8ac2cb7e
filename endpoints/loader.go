package endpoints

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/marcelsud/webhook-outbox/webhook/validator"
	"gopkg.in/yaml.v3"
)

/* Loader manages endpoint definitions from endpoints.yaml
 * Definitions are validated on load and kept in file order
 */

// Config represents the structure of endpoints.yaml
type Config struct {
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// Registrar is the part of the engine the loader registers endpoints with
type Registrar interface {
	GetEndpoint(ctx context.Context, id string) (webhook.Endpoint, error)
	AddEndpoint(ctx context.Context, ep webhook.Endpoint) (webhook.Endpoint, error)
}

type Loader struct {
	validator *validator.Validator
	endpoints map[string]webhook.Endpoint
	order     []string
}

// NewLoader creates a loader validating URLs with v; nil uses the strict default validator
func NewLoader(v *validator.Validator) *Loader {
	if v == nil {
		v = validator.New(validator.Config{})
	}
	return &Loader{
		validator: v,
		endpoints: make(map[string]webhook.Endpoint),
	}
}

// Load reads and parses the endpoints file
func (l *Loader) Load(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading endpoints file: %w", err)
	}
	return l.Parse(data)
}

// Parse validates every definition before any is kept
func (l *Loader) Parse(data []byte) error {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("parsing endpoints YAML: %w", err)
	}

	parsed := make(map[string]webhook.Endpoint, len(config.Endpoints))
	order := make([]string, 0, len(config.Endpoints))
	for _, ec := range config.Endpoints {
		ep, err := ec.Endpoint(l.validator)
		if err != nil {
			return fmt.Errorf("validating endpoint: %w", err)
		}
		if _, dup := parsed[ep.ID]; dup {
			return fmt.Errorf("validating endpoint: duplicate id %s", ep.ID)
		}
		parsed[ep.ID] = ep
		order = append(order, ep.ID)
	}

	for _, id := range order {
		if _, exists := l.endpoints[id]; !exists {
			l.order = append(l.order, id)
		}
		l.endpoints[id] = parsed[id]
	}
	return nil
}

func (l *Loader) Get(id string) (webhook.Endpoint, error) {
	ep, exists := l.endpoints[id]
	if !exists {
		return webhook.Endpoint{}, webhook.NotFound("endpoint", id)
	}
	return ep.Clone(), nil
}

// List returns all loaded endpoints in file order
func (l *Loader) List() []webhook.Endpoint {
	out := make([]webhook.Endpoint, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.endpoints[id].Clone())
	}
	return out
}

func (l *Loader) Exists(id string) bool {
	_, exists := l.endpoints[id]
	return exists
}

/* Register adds loaded endpoints that the registrar does not know yet
 * Endpoints already present by id are left untouched so restarts keep runtime changes
 */
func (l *Loader) Register(ctx context.Context, r Registrar) (int, error) {
	added := 0
	for _, ep := range l.List() {
		_, err := r.GetEndpoint(ctx, ep.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, webhook.ErrNotFound) {
			return added, fmt.Errorf("looking up endpoint %s: %w", ep.ID, err)
		}
		if _, err := r.AddEndpoint(ctx, ep); err != nil {
			return added, fmt.Errorf("registering endpoint %s: %w", ep.ID, err)
		}
		added++
	}
	return added, nil
}
