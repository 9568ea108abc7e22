package workload

import (
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNames(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		n      int
		want   []string
	}{
		{
			name:   "three",
			prefix: "client-bench-",
			n:      3,
			want: []string{
				"client-bench-000000",
				"client-bench-000001",
				"client-bench-000002",
			},
		},
		{
			name:   "empty prefix",
			prefix: "",
			n:      1,
			want:   []string{"000000"},
		},
		{name: "zero", prefix: "x-", n: 0, want: []string{}},
		{name: "negative", prefix: "x-", n: -4, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Names(tt.prefix, tt.n)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("names[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestProperty_Names(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("names are unique, fixed width and sorted by index", prop.ForAll(
		func(prefix string, n int) bool {
			names := Names(prefix, n)
			if len(names) != n {
				return false
			}

			seen := make(map[string]struct{}, n)
			for _, name := range names {
				if !strings.HasPrefix(name, prefix) {
					return false
				}
				if len(name) != len(prefix)+indexWidth {
					return false
				}
				seen[name] = struct{}{}
			}

			return len(seen) == n && sort.StringsAreSorted(names)
		},
		gen.AlphaString(),
		gen.IntRange(0, 3000),
	))

	properties.TestingRun(t)
}

func TestProperty_LabelRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("labels built for a name check against that name", prop.ForAll(
		func(namespace, name string) bool {
			return CheckLabels(namespace, name, Labels(namespace, name)) == nil
		},
		gen.Identifier(),
		gen.AnyString(),
	))

	properties.Property("labels built for another name never check", prop.ForAll(
		func(namespace, a, b string) bool {
			if a == b {
				return true
			}
			err := CheckLabels(namespace, a, Labels(namespace, b))

			return errors.Is(err, ErrLabelMismatch)
		},
		gen.Identifier(),
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestCheckLabels(t *testing.T) {
	tests := []struct {
		name    string
		labels  map[string]string
		wantErr bool
	}{
		{
			name:   "exact",
			labels: map[string]string{"app/a": "default-a"},
		},
		{
			name:   "extra labels allowed",
			labels: map[string]string{"app/a": "default-a", "app": "a"},
		},
		{
			name:    "wrong value",
			labels:  map[string]string{"app/a": "other-a"},
			wantErr: true,
		},
		{name: "missing", labels: map[string]string{}, wantErr: true},
		{name: "nil", labels: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckLabels("default", "a", tt.labels)
			if tt.wantErr != (err != nil) {
				t.Fatalf("CheckLabels() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrLabelMismatch) {
				t.Errorf("error %v does not wrap ErrLabelMismatch", err)
			}
		})
	}
}

func TestPopulationCachesNames(t *testing.T) {
	pop := NewPopulation(Config{Size: 10, Namespace: "ns", Prefix: "p-"})

	first := pop.Names()
	second := pop.Names()

	if len(first) != 10 {
		t.Fatalf("len = %d, want 10", len(first))
	}
	if &first[0] != &second[0] {
		t.Error("Names() recomputed the slice")
	}
	if pop.Size() != 10 {
		t.Errorf("size = %d, want 10", pop.Size())
	}
	if err := pop.Check("p-000003", pop.Labels("p-000003")); err != nil {
		t.Errorf("Check() = %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Size != 5000 {
		t.Errorf("size = %d, want 5000", cfg.Size)
	}
	if cfg.Namespace != "default" {
		t.Errorf("namespace = %q, want default", cfg.Namespace)
	}
	if cfg.Prefix != "client-bench-" {
		t.Errorf("prefix = %q, want client-bench-", cfg.Prefix)
	}
}

func TestNamesFixedWidthUpToMaxSize(t *testing.T) {
	names := Names("p-", MaxSize)

	first, last := names[0], names[len(names)-1]
	if last != "p-999999" {
		t.Fatalf("last name: got %q, want %q", last, "p-999999")
	}
	if len(first) != len(last) {
		t.Errorf("name width changed: %q vs %q", first, last)
	}
	if !sort.StringsAreSorted(names) {
		t.Error("names are not lexicographically sorted")
	}
}
