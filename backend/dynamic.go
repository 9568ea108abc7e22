package backend

import (
	"context"
	"fmt"
	"log/slog"

	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"

	"github.com/weiihann/kubebench/harness"
)

var deploymentsGVR = appsv1.SchemeGroupVersion.WithResource("deployments")

// Dynamic benchmarks client-go's dynamic client, which sends and receives
// unstructured maps instead of generated types.
type Dynamic struct {
	opts   Options
	client dynamic.Interface
	logger *slog.Logger
}

// NewDynamic creates a Dynamic backend. A nil client is built from the
// kubeconfig during Initialize.
func NewDynamic(opts Options, client dynamic.Interface) *Dynamic {
	return &Dynamic{
		opts:   opts,
		client: client,
		logger: opts.logger(NameDynamic),
	}
}

// Name implements harness.Backend.
func (d *Dynamic) Name() string {
	return NameDynamic
}

// Initialize implements harness.Backend.
func (d *Dynamic) Initialize(ctx context.Context) error {
	if d.client == nil {
		cfg, err := RESTConfig(d.opts)
		if err != nil {
			return err
		}

		client, err := dynamic.NewForConfig(cfg)
		if err != nil {
			return fmt.Errorf("create dynamic client: %w", err)
		}

		d.client = client
	}

	if _, err := d.deployments().List(ctx, metav1.ListOptions{Limit: 1}); err != nil {
		return fmt.Errorf("reach API server: %w", err)
	}

	d.logger.DebugContext(ctx, "dynamic client ready", slog.String("namespace", d.opts.Namespace))

	return nil
}

func (d *Dynamic) deployments() dynamic.ResourceInterface {
	return d.client.Resource(deploymentsGVR).Namespace(d.opts.Namespace)
}

// Create implements harness.Backend.
func (d *Dynamic) Create(ctx context.Context, name string) (harness.Object, error) {
	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(
		NewDeployment(d.opts.Namespace, name),
	)
	if err != nil {
		return harness.Object{}, fmt.Errorf("convert deployment: %w", err)
	}

	out, err := d.deployments().Create(ctx, &unstructured.Unstructured{Object: content}, metav1.CreateOptions{})
	if err != nil {
		return harness.Object{}, err
	}

	return objectOf(out), nil
}

// Get implements harness.Backend.
func (d *Dynamic) Get(ctx context.Context, name string) (harness.Object, error) {
	out, err := d.deployments().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return harness.Object{}, err
	}

	return objectOf(out), nil
}

// Delete implements harness.Backend.
func (d *Dynamic) Delete(ctx context.Context, name string) error {
	return d.deployments().Delete(ctx, name, metav1.DeleteOptions{})
}

// Watch implements harness.Backend.
func (d *Dynamic) Watch(ctx context.Context) (<-chan harness.Notification, error) {
	return streamWatch(ctx, d.opts.StreamBuffer, func(ctx context.Context) (watch.Interface, error) {
		return d.deployments().Watch(ctx, metav1.ListOptions{})
	})
}

// Cleanup implements harness.Cleaner.
func (d *Dynamic) Cleanup(ctx context.Context) error {
	list, err := d.deployments().List(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("list deployments: %w", err)
	}

	names := make([]string, 0, len(list.Items))
	for _, item := range list.Items {
		names = append(names, item.GetName())
	}

	return deletePrefixed(ctx, d.opts.Prefix, names, d.Delete)
}
