package cryptostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/rs/zerolog"
)

/* Field-level encryption around the endpoint and delivery stores
 * Endpoint secrets and delivery payloads are encrypted before they reach the
 * wrapped store and decrypted on the way back out
 */

// DefaultMask is returned in place of a field that could not be decrypted under FailOpenMask
const DefaultMask = "********"

// ErrUnsafePlaintext is returned when FailOpenPlaintext is configured without the explicit opt-in
var ErrUnsafePlaintext = errors.New("plaintext fallback requires AllowUnsafePlaintext")

// Context identifies the field being transformed
type Context struct {
	Tenant string
	Path   string
	AAD    []byte
}

// EncryptFunc turns plaintext into an opaque ciphertext string
type EncryptFunc func(ctx context.Context, plaintext []byte, c Context) (string, error)

// DecryptFunc restores plaintext from a value produced by the matching EncryptFunc
type DecryptFunc func(ctx context.Context, ciphertext string, c Context) ([]byte, error)

// Policy decides what happens when a transform fails
type Policy int

const (
	FailClosed        Policy = iota // propagate the error
	FailOpenMask                    // substitute the mask
	FailOpenNull                    // substitute an empty value
	FailOpenPlaintext               // pass the value through untransformed
)

func (p Policy) String() string {
	switch p {
	case FailClosed:
		return "fail_closed"
	case FailOpenMask:
		return "fail_open_mask"
	case FailOpenNull:
		return "fail_open_null"
	case FailOpenPlaintext:
		return "fail_open_plaintext"
	default:
		return "unknown"
	}
}

// NewPolicy parses a policy name, defaulting to FailClosed
func NewPolicy(s string) Policy {
	switch s {
	case "fail_open_mask":
		return FailOpenMask
	case "fail_open_null":
		return FailOpenNull
	case "fail_open_plaintext":
		return FailOpenPlaintext
	default:
		return FailClosed
	}
}

type Config struct {
	Encrypt EncryptFunc
	Decrypt DecryptFunc
	Tenant  string
	Policy  Policy
	Mask    string

	// AllowUnsafePlaintext must be set for FailOpenPlaintext to be accepted
	AllowUnsafePlaintext bool

	Logger zerolog.Logger
}

// Codec applies the configured transforms and failure policy
type Codec struct {
	cfg Config
}

// New validates the configuration and returns a codec
func New(cfg Config) (*Codec, error) {
	if cfg.Encrypt == nil || cfg.Decrypt == nil {
		return nil, webhook.Validation("crypto", "encrypt and decrypt functions are required")
	}
	if cfg.Policy == FailOpenPlaintext && !cfg.AllowUnsafePlaintext {
		return nil, ErrUnsafePlaintext
	}
	if cfg.Mask == "" {
		cfg.Mask = DefaultMask
	}
	return &Codec{cfg: cfg}, nil
}

// Endpoints wraps an endpoint store, encrypting Secret
func (c *Codec) Endpoints(inner webhook.EndpointStore) *EndpointStore {
	return &EndpointStore{inner: inner, codec: c}
}

// Deliveries wraps a delivery store, encrypting Payload
func (c *Codec) Deliveries(inner webhook.DeliveryStore) *DeliveryStore {
	return &DeliveryStore{inner: inner, codec: c}
}

func (c *Codec) fieldContext(path, id string) Context {
	return Context{Tenant: c.cfg.Tenant, Path: path, AAD: []byte(id)}
}

func (c *Codec) seal(ctx context.Context, value []byte, fc Context) ([]byte, error) {
	if len(value) == 0 {
		return value, nil
	}
	out, err := c.cfg.Encrypt(ctx, value, fc)
	if err == nil {
		return []byte(out), nil
	}
	return c.fallback(value, fc, "encrypt", err)
}

func (c *Codec) open(ctx context.Context, value []byte, fc Context) ([]byte, error) {
	if len(value) == 0 {
		return value, nil
	}
	out, err := c.cfg.Decrypt(ctx, string(value), fc)
	if err == nil {
		return out, nil
	}
	return c.fallback(value, fc, "decrypt", err)
}

func (c *Codec) fallback(value []byte, fc Context, op string, cause error) ([]byte, error) {
	if c.cfg.Policy == FailClosed {
		return nil, fmt.Errorf("%s %s: %w", op, fc.Path, cause)
	}

	c.cfg.Logger.Warn().
		Err(cause).
		Str("path", fc.Path).
		Str("policy", c.cfg.Policy.String()).
		Msgf("field %s failed, applying fallback", op)

	switch c.cfg.Policy {
	case FailOpenMask:
		return []byte(c.cfg.Mask), nil
	case FailOpenNull:
		return nil, nil
	default:
		return value, nil
	}
}

// fallbackFor is the value open hands out for a stored value that cannot be decrypted
func (c *Codec) fallbackFor(stored string) string {
	switch c.cfg.Policy {
	case FailOpenMask:
		return c.cfg.Mask
	case FailOpenNull:
		return ""
	default:
		return stored
	}
}

// EndpointStore encrypts endpoint secrets at rest
type EndpointStore struct {
	inner webhook.EndpointStore
	codec *Codec
}

func secretPath(id string) string { return "endpoints/" + id + "/secret" }

func (s *EndpointStore) encrypt(ctx context.Context, ep webhook.Endpoint) (webhook.Endpoint, error) {
	sealed, err := s.codec.seal(ctx, []byte(ep.Secret), s.codec.fieldContext(secretPath(ep.ID), ep.ID))
	if err != nil {
		return webhook.Endpoint{}, err
	}
	ep.Secret = string(sealed)
	return ep, nil
}

func (s *EndpointStore) decrypt(ctx context.Context, ep webhook.Endpoint) (webhook.Endpoint, error) {
	opened, err := s.codec.open(ctx, []byte(ep.Secret), s.codec.fieldContext(secretPath(ep.ID), ep.ID))
	if err != nil {
		return webhook.Endpoint{}, err
	}
	ep.Secret = string(opened)
	return ep, nil
}

func (s *EndpointStore) Add(ctx context.Context, ep webhook.Endpoint) error {
	sealed, err := s.encrypt(ctx, ep)
	if err != nil {
		return err
	}
	return s.inner.Add(ctx, sealed)
}

/* Update re-encrypts the secret
 * Writing back the fallback a failed decrypt produced keeps the stored
 * ciphertext, so a mask or empty value never replaces the real secret
 */
func (s *EndpointStore) Update(ctx context.Context, id string, ep webhook.Endpoint) error {
	ep.ID = id
	if stored, ok := s.undecryptable(ctx, id); ok && ep.Secret == s.codec.fallbackFor(stored) {
		ep.Secret = stored
		return s.inner.Update(ctx, id, ep)
	}
	sealed, err := s.encrypt(ctx, ep)
	if err != nil {
		return err
	}
	return s.inner.Update(ctx, id, sealed)
}

// undecryptable returns the stored secret when a fail-open policy would have masked it
func (s *EndpointStore) undecryptable(ctx context.Context, id string) (string, bool) {
	if s.codec.cfg.Policy == FailClosed {
		return "", false
	}
	current, err := s.inner.Get(ctx, id)
	if err != nil || current.Secret == "" {
		return "", false
	}
	if _, err := s.codec.cfg.Decrypt(ctx, current.Secret, s.codec.fieldContext(secretPath(id), id)); err == nil {
		return "", false
	}
	return current.Secret, true
}

// MarkTriggered stamps LastTriggeredAt on the stored record without decrypting the secret
func (s *EndpointStore) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	if marker, ok := s.inner.(webhook.TriggerMarker); ok {
		return marker.MarkTriggered(ctx, id, at)
	}
	ep, err := s.inner.Get(ctx, id)
	if err != nil {
		return err
	}
	ep.LastTriggeredAt = &at
	return s.inner.Update(ctx, id, ep)
}

func (s *EndpointStore) Remove(ctx context.Context, id string) error {
	return s.inner.Remove(ctx, id)
}

func (s *EndpointStore) Get(ctx context.Context, id string) (webhook.Endpoint, error) {
	ep, err := s.inner.Get(ctx, id)
	if err != nil {
		return webhook.Endpoint{}, err
	}
	return s.decrypt(ctx, ep)
}

func (s *EndpointStore) List(ctx context.Context) ([]webhook.Endpoint, error) {
	endpoints, err := s.inner.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range endpoints {
		if endpoints[i], err = s.decrypt(ctx, endpoints[i]); err != nil {
			return nil, err
		}
	}
	return endpoints, nil
}

// Close closes the wrapped store when it holds resources
func (s *EndpointStore) Close(ctx context.Context) error {
	if closer, ok := s.inner.(webhook.Closer); ok {
		return closer.Close(ctx)
	}
	return nil
}

// DeliveryStore encrypts delivery payloads at rest
type DeliveryStore struct {
	inner webhook.DeliveryStore
	codec *Codec
}

func payloadPath(id string) string { return "deliveries/" + id + "/payload" }

func (s *DeliveryStore) Add(ctx context.Context, d webhook.Delivery) error {
	sealed, err := s.codec.seal(ctx, d.Payload, s.codec.fieldContext(payloadPath(d.ID), d.ID))
	if err != nil {
		return err
	}
	d.Payload = sealed
	return s.inner.Add(ctx, d)
}

func (s *DeliveryStore) List(ctx context.Context, f webhook.DeliveryFilter) ([]webhook.Delivery, error) {
	deliveries, err := s.inner.List(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range deliveries {
		d := &deliveries[i]
		if d.Payload, err = s.codec.open(ctx, d.Payload, s.codec.fieldContext(payloadPath(d.ID), d.ID)); err != nil {
			return nil, err
		}
	}
	return deliveries, nil
}

// Close closes the wrapped store when it holds resources
func (s *DeliveryStore) Close(ctx context.Context) error {
	if closer, ok := s.inner.(webhook.Closer); ok {
		return closer.Close(ctx)
	}
	return nil
}
