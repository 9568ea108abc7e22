// Package workload generates the deterministic population of named objects
// that every backend session creates, reads, watches and deletes, together
// with the identifying labels used to verify round-trips.
package workload

import (
	"errors"
	"fmt"
	"sync"
)

// Defaults for a benchmark population.
const (
	DefaultSize      = 5000
	DefaultNamespace = "default"
	DefaultPrefix    = "client-bench-"

	// indexWidth keeps names lexicographically sortable by index.
	indexWidth = 6

	// MaxSize is the largest population whose indexes fit in indexWidth
	// digits.
	MaxSize = 1_000_000
)

// ErrLabelMismatch is returned when an object's labels do not carry the
// identifying label expected for its name.
var ErrLabelMismatch = errors.New("identifying label mismatch")

// Names returns n names of the form prefix+zero-padded index, in index order.
// Names share one width, and so sort by index, only while n <= MaxSize.
func Names(prefix string, n int) []string {
	if n <= 0 {
		return []string{}
	}

	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("%s%0*d", prefix, indexWidth, i)
	}

	return names
}

// LabelKey returns the identifying label key for name.
func LabelKey(name string) string {
	return "app/" + name
}

// LabelValue returns the identifying label value for name in namespace.
func LabelValue(namespace, name string) string {
	return namespace + "-" + name
}

// Labels returns the identifying labels for name in namespace.
func Labels(namespace, name string) map[string]string {
	return map[string]string{LabelKey(name): LabelValue(namespace, name)}
}

// CheckLabels verifies that labels carry every identifying label for name.
// Extra labels are allowed.
func CheckLabels(namespace, name string, labels map[string]string) error {
	for k, want := range Labels(namespace, name) {
		got, ok := labels[k]
		if !ok {
			return fmt.Errorf("%w: %s: missing label %q", ErrLabelMismatch, name, k)
		}
		if got != want {
			return fmt.Errorf("%w: %s: label %q = %q, want %q",
				ErrLabelMismatch, name, k, got, want)
		}
	}

	return nil
}

// Config describes a population.
type Config struct {
	Size      int
	Namespace string
	Prefix    string
}

// DefaultConfig returns the population used for cross-backend comparisons.
func DefaultConfig() Config {
	return Config{
		Size:      DefaultSize,
		Namespace: DefaultNamespace,
		Prefix:    DefaultPrefix,
	}
}

// Population is a fixed set of work items. Its name slice is computed once
// and shared read-only by every phase.
type Population struct {
	cfg Config

	once  sync.Once
	names []string
}

// NewPopulation creates a Population from cfg.
func NewPopulation(cfg Config) *Population {
	return &Population{cfg: cfg}
}

// Size returns the number of work items.
func (p *Population) Size() int {
	return max(p.cfg.Size, 0)
}

// Namespace returns the namespace objects live in.
func (p *Population) Namespace() string {
	return p.cfg.Namespace
}

// Prefix returns the name prefix.
func (p *Population) Prefix() string {
	return p.cfg.Prefix
}

// Names returns the cached, ordered item names. Callers must not modify it.
func (p *Population) Names() []string {
	p.once.Do(func() {
		p.names = Names(p.cfg.Prefix, p.cfg.Size)
	})

	return p.names
}

// Labels returns the identifying labels for name.
func (p *Population) Labels(name string) map[string]string {
	return Labels(p.cfg.Namespace, name)
}

// Check verifies labels against the identifying labels for name.
func (p *Population) Check(name string, labels map[string]string) error {
	return CheckLabels(p.cfg.Namespace, name, labels)
}
