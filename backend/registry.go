package backend

import (
	"fmt"
	"slices"

	"github.com/weiihann/kubebench/harness"
)

// Backend names.
const (
	NameClientset         = "clientset"
	NameDynamic           = "dynamic"
	NameControllerRuntime = "controller-runtime"
	NameMemory            = "memory"
)

// KnownBackends returns the supported backend names in default run order.
func KnownBackends() []string {
	return []string{
		NameClientset, NameDynamic, NameControllerRuntime, NameMemory,
	}
}

// IsKnown reports whether name is a supported backend.
func IsKnown(name string) bool {
	return slices.Contains(KnownBackends(), name)
}

// New creates the named backend. Kubernetes backends connect lazily in
// Initialize.
func New(name string, opts Options) (harness.Backend, error) {
	switch name {
	case NameClientset:
		return NewClientset(opts, nil), nil
	case NameDynamic:
		return NewDynamic(opts, nil), nil
	case NameControllerRuntime:
		return NewControllerRuntime(opts, nil), nil
	case NameMemory:
		return NewMemory(opts), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}
