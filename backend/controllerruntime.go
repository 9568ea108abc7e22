package backend

import (
	"context"
	"fmt"
	"log/slog"

	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/weiihann/kubebench/harness"
)

// ControllerRuntime benchmarks the controller-runtime client, the one most
// operators are written against.
type ControllerRuntime struct {
	opts   Options
	client client.WithWatch
	logger *slog.Logger
}

// NewControllerRuntime creates a ControllerRuntime backend. A nil client is
// built from the kubeconfig during Initialize.
func NewControllerRuntime(opts Options, c client.WithWatch) *ControllerRuntime {
	return &ControllerRuntime{
		opts:   opts,
		client: c,
		logger: opts.logger(NameControllerRuntime),
	}
}

// Name implements harness.Backend.
func (r *ControllerRuntime) Name() string {
	return NameControllerRuntime
}

// Initialize implements harness.Backend.
func (r *ControllerRuntime) Initialize(ctx context.Context) error {
	if r.client == nil {
		cfg, err := RESTConfig(r.opts)
		if err != nil {
			return err
		}

		c, err := client.NewWithWatch(cfg, client.Options{Scheme: clientgoscheme.Scheme})
		if err != nil {
			return fmt.Errorf("create controller-runtime client: %w", err)
		}

		r.client = c
	}

	var list appsv1.DeploymentList
	if err := r.client.List(ctx, &list, client.InNamespace(r.opts.Namespace), client.Limit(1)); err != nil {
		return fmt.Errorf("reach API server: %w", err)
	}

	r.logger.DebugContext(ctx, "controller-runtime client ready", slog.String("namespace", r.opts.Namespace))

	return nil
}

// Create implements harness.Backend.
func (r *ControllerRuntime) Create(ctx context.Context, name string) (harness.Object, error) {
	dep := NewDeployment(r.opts.Namespace, name)
	if err := r.client.Create(ctx, dep); err != nil {
		return harness.Object{}, err
	}

	return objectOf(dep), nil
}

// Get implements harness.Backend.
func (r *ControllerRuntime) Get(ctx context.Context, name string) (harness.Object, error) {
	var dep appsv1.Deployment

	key := client.ObjectKey{Namespace: r.opts.Namespace, Name: name}
	if err := r.client.Get(ctx, key, &dep); err != nil {
		return harness.Object{}, err
	}

	return objectOf(&dep), nil
}

// Delete implements harness.Backend.
func (r *ControllerRuntime) Delete(ctx context.Context, name string) error {
	return r.client.Delete(ctx, &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Namespace: r.opts.Namespace, Name: name},
	})
}

// Watch implements harness.Backend.
func (r *ControllerRuntime) Watch(ctx context.Context) (<-chan harness.Notification, error) {
	return streamWatch(ctx, r.opts.StreamBuffer, func(ctx context.Context) (watch.Interface, error) {
		return r.client.Watch(ctx, &appsv1.DeploymentList{}, client.InNamespace(r.opts.Namespace))
	})
}

// Cleanup implements harness.Cleaner.
func (r *ControllerRuntime) Cleanup(ctx context.Context) error {
	var list appsv1.DeploymentList
	if err := r.client.List(ctx, &list, client.InNamespace(r.opts.Namespace)); err != nil {
		return fmt.Errorf("list deployments: %w", err)
	}

	names := make([]string, 0, len(list.Items))
	for _, item := range list.Items {
		names = append(names, item.Name)
	}

	return deletePrefixed(ctx, r.opts.Prefix, names, r.Delete)
}
