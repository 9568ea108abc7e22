package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/weiihann/kubebench/workload"
)

// Options configures every backend.
type Options struct {
	Namespace string
	Prefix    string

	// Kubeconfig is an explicit kubeconfig path. Empty uses the default
	// loading rules ($KUBECONFIG, then ~/.kube/config), then in-cluster.
	Kubeconfig string
	Context    string

	// QPS and Burst configure client-side rate limiting. A negative QPS
	// disables it so the admission gate is the only limit.
	QPS   float32
	Burst int

	// MemoryLatency is the simulated per-call latency of the memory backend.
	MemoryLatency time.Duration

	// StreamBuffer is the capacity of watch notification channels.
	StreamBuffer int

	Logger *slog.Logger
}

// DefaultOptions returns options matching the default population.
func DefaultOptions() Options {
	return Options{
		Namespace: workload.DefaultNamespace,
		Prefix:    workload.DefaultPrefix,
		QPS:       -1,
		Logger:    slog.Default(),
	}
}

func (o Options) logger(backend string) *slog.Logger {
	l := o.Logger
	if l == nil {
		l = slog.Default()
	}

	return l.With(slog.String("backend", backend))
}

// RESTConfig loads the client configuration described by opts.
func RESTConfig(opts Options) (*rest.Config, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if opts.Kubeconfig != "" {
		rules.ExplicitPath = opts.Kubeconfig
	}

	overrides := &clientcmd.ConfigOverrides{CurrentContext: opts.Context}

	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		rules, overrides,
	).ClientConfig()
	if err != nil {
		inCluster, icErr := rest.InClusterConfig()
		if icErr != nil {
			return nil, fmt.Errorf("load kubeconfig: %w", errors.Join(err, icErr))
		}

		cfg = inCluster
	}

	cfg.QPS = opts.QPS
	cfg.Burst = opts.Burst
	cfg.UserAgent = "kubebench"

	return cfg, nil
}
