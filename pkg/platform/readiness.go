/*
Copyright The Sentinel Updater Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package platform implements the platform readiness signal on top of
// the Kubernetes API
package platform

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/sentinel-updater/sentinel-updater/pkg/health"
	"github.com/sentinel-updater/sentinel-updater/pkg/update"
)

// KubernetesReadiness reads ready and desired replica counts from the
// workload status
type KubernetesReadiness struct {
	client kubernetes.Interface
}

// NewKubernetesReadiness wraps an existing clientset
func NewKubernetesReadiness(client kubernetes.Interface) *KubernetesReadiness {
	return &KubernetesReadiness{client: client}
}

// NewClientset builds a Kubernetes clientset from the in-cluster
// configuration, falling back to the given kubeconfig path
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("cannot load Kubernetes configuration: %w", err)
		}
	}
	return kubernetes.NewForConfig(config)
}

// Readiness implements the health.ReadinessSource interface
func (k *KubernetesReadiness) Readiness(ctx context.Context, target health.Target) (health.Readiness, error) {
	switch update.AssetType(target.AssetType) {
	case update.AssetTypeDeployment:
		deployment, err := k.client.AppsV1().Deployments(target.Namespace).
			Get(ctx, target.Name, metav1.GetOptions{})
		if err != nil {
			return health.Readiness{}, err
		}
		desired := int32(1)
		if deployment.Spec.Replicas != nil {
			desired = *deployment.Spec.Replicas
		}
		return health.Readiness{
			ReadyReplicas:   deployment.Status.ReadyReplicas,
			DesiredReplicas: desired,
		}, nil

	case update.AssetTypeStatefulSet:
		statefulSet, err := k.client.AppsV1().StatefulSets(target.Namespace).
			Get(ctx, target.Name, metav1.GetOptions{})
		if err != nil {
			return health.Readiness{}, err
		}
		desired := int32(1)
		if statefulSet.Spec.Replicas != nil {
			desired = *statefulSet.Spec.Replicas
		}
		return health.Readiness{
			ReadyReplicas:   statefulSet.Status.ReadyReplicas,
			DesiredReplicas: desired,
		}, nil

	case update.AssetTypeDaemonSet:
		daemonSet, err := k.client.AppsV1().DaemonSets(target.Namespace).
			Get(ctx, target.Name, metav1.GetOptions{})
		if err != nil {
			return health.Readiness{}, err
		}
		return health.Readiness{
			ReadyReplicas:   daemonSet.Status.NumberReady,
			DesiredReplicas: daemonSet.Status.DesiredNumberScheduled,
		}, nil
	}

	return health.Readiness{}, fmt.Errorf("asset type %q has no platform readiness signal", target.AssetType)
}
