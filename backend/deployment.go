// Package backend adapts Kubernetes client libraries to the harness.Backend
// contract. Every Kubernetes adapter creates the same Deployment so the
// libraries are compared on identical payloads.
package backend

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"

	"github.com/weiihann/kubebench/harness"
	"github.com/weiihann/kubebench/workload"
)

const (
	image       = "busybox:stable"
	sharedEnvNo = 50
)

// NewDeployment returns the benchmark Deployment for name: zero replicas and
// a three-container pod template large enough to make serialization cost
// visible.
func NewDeployment(namespace, name string) *appsv1.Deployment {
	return &appsv1.Deployment{
		TypeMeta: metav1.TypeMeta{
			APIVersion: appsv1.SchemeGroupVersion.String(),
			Kind:       "Deployment",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    workload.Labels(namespace, name),
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To[int32](0),
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{"app": name},
			},
			Template: podTemplate(name),
		},
	}
}

func podTemplate(name string) corev1.PodTemplateSpec {
	shared := make([]corev1.EnvVar, 0, sharedEnvNo)
	for i := range sharedEnvNo {
		shared = append(shared, corev1.EnvVar{
			Name:  fmt.Sprintf("ENV_%d", i),
			Value: fmt.Sprintf("value_%d", i),
		})
	}

	withEnv := func(extra ...corev1.EnvVar) []corev1.EnvVar {
		env := make([]corev1.EnvVar, 0, len(shared)+len(extra))
		env = append(env, shared...)

		return append(env, extra...)
	}

	c1 := sleeper("c1", "/work")
	c1.Env = withEnv(corev1.EnvVar{Name: "C1_ONLY", Value: "x"})
	c1.Resources = resources()
	c1.LivenessProbe = &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			Exec: &corev1.ExecAction{Command: []string{"/bin/true"}},
		},
		InitialDelaySeconds: 5,
		PeriodSeconds:       30,
	}

	c2 := sleeper("c2", "/data")
	c2.Env = withEnv(corev1.EnvVar{Name: "C2_ONLY", Value: "y"})
	c2.Resources = resources()

	c3 := sleeper("c3", "/cache")
	c3.Env = append([]corev1.EnvVar{{Name: "IMPORTANT", Value: "bench_value"}}, shared...)

	return corev1.PodTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{
			Labels: map[string]string{"app": name},
		},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{c1, c2, c3},
			Volumes: []corev1.Volume{{
				Name: "work",
				VolumeSource: corev1.VolumeSource{
					EmptyDir: &corev1.EmptyDirVolumeSource{},
				},
			}},
		},
	}
}

func sleeper(name, mountPath string) corev1.Container {
	return corev1.Container{
		Name:    name,
		Image:   image,
		Command: []string{"/bin/sh", "-c"},
		Args:    []string{"sleep 3600"},
		VolumeMounts: []corev1.VolumeMount{{
			Name:      "work",
			MountPath: mountPath,
		}},
	}
}

func resources() corev1.ResourceRequirements {
	return corev1.ResourceRequirements{
		Limits: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse("100m"),
			corev1.ResourceMemory: resource.MustParse("128Mi"),
		},
		Requests: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse("50m"),
			corev1.ResourceMemory: resource.MustParse("64Mi"),
		},
	}
}

func objectOf(meta metav1.Object) harness.Object {
	return harness.Object{
		Name:   meta.GetName(),
		Labels: meta.GetLabels(),
	}
}
