package backend

import (
	"context"
	"fmt"
	"log/slog"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	typedappsv1 "k8s.io/client-go/kubernetes/typed/apps/v1"

	"github.com/weiihann/kubebench/harness"
)

// Clientset benchmarks the generated typed client from client-go.
type Clientset struct {
	opts   Options
	client kubernetes.Interface
	logger *slog.Logger
}

// NewClientset creates a Clientset backend. A nil client is built from the
// kubeconfig during Initialize.
func NewClientset(opts Options, client kubernetes.Interface) *Clientset {
	return &Clientset{
		opts:   opts,
		client: client,
		logger: opts.logger(NameClientset),
	}
}

// Name implements harness.Backend.
func (c *Clientset) Name() string {
	return NameClientset
}

// Initialize implements harness.Backend.
func (c *Clientset) Initialize(ctx context.Context) error {
	if c.client == nil {
		cfg, err := RESTConfig(c.opts)
		if err != nil {
			return err
		}

		client, err := kubernetes.NewForConfig(cfg)
		if err != nil {
			return fmt.Errorf("create clientset: %w", err)
		}

		c.client = client
	}

	_, err := c.deployments().List(ctx, metav1.ListOptions{Limit: 1})
	if err != nil {
		return fmt.Errorf("reach API server: %w", err)
	}

	c.logger.DebugContext(ctx, "clientset ready", slog.String("namespace", c.opts.Namespace))

	return nil
}

func (c *Clientset) deployments() typedappsv1.DeploymentInterface {
	return c.client.AppsV1().Deployments(c.opts.Namespace)
}

// Create implements harness.Backend.
func (c *Clientset) Create(ctx context.Context, name string) (harness.Object, error) {
	dep, err := c.deployments().Create(ctx, NewDeployment(c.opts.Namespace, name), metav1.CreateOptions{})
	if err != nil {
		return harness.Object{}, err
	}

	return objectOf(dep), nil
}

// Get implements harness.Backend.
func (c *Clientset) Get(ctx context.Context, name string) (harness.Object, error) {
	dep, err := c.deployments().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return harness.Object{}, err
	}

	return objectOf(dep), nil
}

// Delete implements harness.Backend.
func (c *Clientset) Delete(ctx context.Context, name string) error {
	return c.deployments().Delete(ctx, name, metav1.DeleteOptions{})
}

// Watch implements harness.Backend.
func (c *Clientset) Watch(ctx context.Context) (<-chan harness.Notification, error) {
	return streamWatch(ctx, c.opts.StreamBuffer, func(ctx context.Context) (watch.Interface, error) {
		return c.deployments().Watch(ctx, metav1.ListOptions{})
	})
}

// Cleanup implements harness.Cleaner.
func (c *Clientset) Cleanup(ctx context.Context) error {
	list, err := c.deployments().List(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("list deployments: %w", err)
	}

	names := make([]string, 0, len(list.Items))
	for _, item := range list.Items {
		names = append(names, item.Name)
	}

	return deletePrefixed(ctx, c.opts.Prefix, names, c.Delete)
}
