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

package updater

import (
	"context"
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"

	"github.com/sentinel-updater/sentinel-updater/pkg/image"
	"github.com/sentinel-updater/sentinel-updater/pkg/management/log"
	"github.com/sentinel-updater/sentinel-updater/pkg/update"
)

// KubernetesUpdater moves Deployments, StatefulSets and DaemonSets to a
// new version by retagging their container image. The rollout itself is
// left to the workload controller; health monitoring observes it through
// the platform readiness source.
type KubernetesUpdater struct {
	client kubernetes.Interface
	log    log.Logger
}

// NewKubernetesUpdater creates a Kubernetes workload backend
func NewKubernetesUpdater(client kubernetes.Interface) *KubernetesUpdater {
	return &KubernetesUpdater{
		client: client,
		log:    log.WithName("kubernetes"),
	}
}

// Name implements the Updater interface
func (k *KubernetesUpdater) Name() string {
	return "kubernetes"
}

// Apply implements the Updater interface
func (k *KubernetesUpdater) Apply(ctx context.Context, asset update.Asset, version string) Outcome {
	start := time.Now()

	k.log.Info("Retagging workload image",
		"namespace", asset.Namespace, "name", asset.Name, "type", asset.Type, "version", version)

	if err := k.setVersion(ctx, asset, version); err != nil {
		return failure(start, "cannot update %s %s/%s: %v", asset.Type, asset.Namespace, asset.Name, err)
	}
	return success(start, "%s %s/%s moved to %s", asset.Type, asset.Namespace, asset.Name, version)
}

// Revert implements the Updater interface. Reverting is the same image
// retag pointed at the previous version.
func (k *KubernetesUpdater) Revert(ctx context.Context, asset update.Asset, version string) Outcome {
	start := time.Now()

	k.log.Info("Reverting workload image",
		"namespace", asset.Namespace, "name", asset.Name, "type", asset.Type, "version", version)

	if err := k.setVersion(ctx, asset, version); err != nil {
		return failure(start, "cannot revert %s %s/%s: %v", asset.Type, asset.Namespace, asset.Name, err)
	}
	return success(start, "%s %s/%s reverted to %s", asset.Type, asset.Namespace, asset.Name, version)
}

func (k *KubernetesUpdater) setVersion(ctx context.Context, asset update.Asset, version string) error {
	switch asset.Type {
	case update.AssetTypeDeployment:
		return retry.RetryOnConflict(retry.DefaultRetry, func() error {
			deployment, err := k.client.AppsV1().Deployments(asset.Namespace).
				Get(ctx, asset.Name, metav1.GetOptions{})
			if err != nil {
				return err
			}
			if err := retagPodSpec(&deployment.Spec.Template.Spec, asset.Name, version); err != nil {
				return err
			}
			_, err = k.client.AppsV1().Deployments(asset.Namespace).
				Update(ctx, deployment, metav1.UpdateOptions{})
			return err
		})

	case update.AssetTypeStatefulSet:
		return retry.RetryOnConflict(retry.DefaultRetry, func() error {
			statefulSet, err := k.client.AppsV1().StatefulSets(asset.Namespace).
				Get(ctx, asset.Name, metav1.GetOptions{})
			if err != nil {
				return err
			}
			if err := retagPodSpec(&statefulSet.Spec.Template.Spec, asset.Name, version); err != nil {
				return err
			}
			_, err = k.client.AppsV1().StatefulSets(asset.Namespace).
				Update(ctx, statefulSet, metav1.UpdateOptions{})
			return err
		})

	case update.AssetTypeDaemonSet:
		return retry.RetryOnConflict(retry.DefaultRetry, func() error {
			daemonSet, err := k.client.AppsV1().DaemonSets(asset.Namespace).
				Get(ctx, asset.Name, metav1.GetOptions{})
			if err != nil {
				return err
			}
			if err := retagPodSpec(&daemonSet.Spec.Template.Spec, asset.Name, version); err != nil {
				return err
			}
			_, err = k.client.AppsV1().DaemonSets(asset.Namespace).
				Update(ctx, daemonSet, metav1.UpdateOptions{})
			return err
		})
	}

	return fmt.Errorf("asset type %q is not a Kubernetes workload", asset.Type)
}

// retagPodSpec points the workload's container at the new version. The
// container named after the workload is preferred; a single-container
// pod is always unambiguous.
func retagPodSpec(podSpec *corev1.PodSpec, workloadName, version string) error {
	container := pickContainer(podSpec, workloadName)
	if container == nil {
		return fmt.Errorf("cannot pick a container to update among %d candidates", len(podSpec.Containers))
	}

	container.Image = image.NewReference(container.Image).WithTag(version).GetNormalizedName()
	return nil
}

func pickContainer(podSpec *corev1.PodSpec, workloadName string) *corev1.Container {
	if len(podSpec.Containers) == 1 {
		return &podSpec.Containers[0]
	}
	for i := range podSpec.Containers {
		if podSpec.Containers[i].Name == workloadName {
			return &podSpec.Containers[i]
		}
	}
	for i := range podSpec.Containers {
		if strings.HasSuffix(image.NewReference(podSpec.Containers[i].Image).Name, "/"+workloadName) {
			return &podSpec.Containers[i]
		}
	}
	return nil
}
