// Package agent models the user-owned callback endpoints ("agent connections") messages are delivered to, mirroring
// the teacher's member package: a plain entity plus a Repository interface, a SQLite implementation, and the
// domain-level validation that used to live in the handler.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the agent package.
var (
	ErrNotFound        = errors.New("agent connection not found")
	ErrDuplicate       = errors.New("an agent connection with this framework and label already exists")
	ErrInvalidCallback = errors.New("callback url is invalid or not reachable by this deployment")
)

// Status values for an AgentConnection.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Supported public-key algorithms.
const (
	KeyAlgEd25519 = "ed25519"
	KeyAlgX25519  = "x25519"
)

// Connection holds the fields read from the agent_connections table.
type Connection struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Framework       string
	Label           string
	Description     *string
	Capabilities    []string
	PublicKey       string
	PublicKeyAlg    string
	RoutingPriority int
	CallbackURL     string
	CallbackSecret  string
	Status          string
	LastSeen        *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RegisterParams groups the inputs for registering or re-registering a connection. Re-registration on the same
// (userID, framework, label) triple is an upsert: metadata is refreshed and the secret rotates only if RotateSecret
// is set.
type RegisterParams struct {
	UserID          uuid.UUID
	Framework       string
	Label           string
	Description     *string
	Capabilities    []string
	PublicKey       string
	PublicKeyAlg    string
	RoutingPriority int
	CallbackURL     string
	CallbackSecret  string
	RotateSecret    bool
}

// Repository defines the data-access contract for agent connection operations.
type Repository interface {
	Register(ctx context.Context, params RegisterParams) (conn *Connection, created bool, err error)
	List(ctx context.Context, userID uuid.UUID) ([]Connection, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Connection, error)
	ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]Connection, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
	Touch(ctx context.Context, id uuid.UUID) error
}

// ValidateCallbackURL enforces the SSRF guard from registration time: the URL must parse, must be HTTP(S), must be
// HTTPS unless the host is loopback, and must not resolve into a private, link-local, or loopback range unless
// allowPrivate is set (self-hosted deployments).
func ValidateCallbackURL(raw string, allowPrivate bool) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: not a valid absolute URL", ErrInvalidCallback)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidCallback)
	}

	host := u.Hostname()
	loopbackHost := host == "localhost"

	ips, err := net.LookupIP(host)
	if err != nil {
		if ip := net.ParseIP(host); ip != nil {
			ips = []net.IP{ip}
		} else {
			return fmt.Errorf("%w: could not resolve host %q", ErrInvalidCallback, host)
		}
	}

	var isPrivate bool
	for _, ip := range ips {
		if ip.IsLoopback() {
			loopbackHost = true
		}
		if ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			isPrivate = true
		}
	}

	if isPrivate && !loopbackHost && !allowPrivate {
		return fmt.Errorf("%w: resolves to a private or link-local address", ErrInvalidCallback)
	}
	// HTTPS is required for anything that isn't loopback or an explicitly permitted private address; self-hosted
	// deployments that opt into private callback hosts are trusted to run their own internal network.
	if u.Scheme != "https" && !loopbackHost && !(isPrivate && allowPrivate) {
		return fmt.Errorf("%w: non-HTTPS callback urls are only permitted on loopback or permitted private hosts", ErrInvalidCallback)
	}

	return nil
}

// ValidatePublicKeyAlg checks alg against the supported set.
func ValidatePublicKeyAlg(alg string) error {
	switch alg {
	case KeyAlgEd25519, KeyAlgX25519:
		return nil
	default:
		return fmt.Errorf("public key algorithm must be one of %q, %q", KeyAlgEd25519, KeyAlgX25519)
	}
}

// HasCapability reports whether the connection advertises any of the given tags.
func (c *Connection) HasCapability(tags []string) bool {
	if len(tags) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(c.Capabilities))
	for _, cap := range c.Capabilities {
		set[strings.ToLower(cap)] = struct{}{}
	}
	for _, t := range tags {
		if _, ok := set[strings.ToLower(t)]; ok {
			return true
		}
	}
	return false
}
