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

package platform

import (
	"context"

	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/sentinel-updater/sentinel-updater/pkg/health"
	"github.com/sentinel-updater/sentinel-updater/pkg/update"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func int32Ptr(value int32) *int32 { return &value }

var _ = Describe("Kubernetes readiness", func() {
	ctx := context.Background()

	It("reads deployment replica counts", func() {
		client := fake.NewSimpleClientset(&appsv1.Deployment{
			ObjectMeta: metav1.ObjectMeta{Namespace: "prod", Name: "api"},
			Spec:       appsv1.DeploymentSpec{Replicas: int32Ptr(3)},
			Status:     appsv1.DeploymentStatus{ReadyReplicas: 2},
		})

		readiness, err := NewKubernetesReadiness(client).Readiness(ctx, health.Target{
			Namespace: "prod", Name: "api", AssetType: string(update.AssetTypeDeployment),
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(readiness.ReadyReplicas).To(BeEquivalentTo(2))
		Expect(readiness.DesiredReplicas).To(BeEquivalentTo(3))
	})

	It("defaults unset deployment replicas to one", func() {
		client := fake.NewSimpleClientset(&appsv1.Deployment{
			ObjectMeta: metav1.ObjectMeta{Namespace: "prod", Name: "api"},
			Status:     appsv1.DeploymentStatus{ReadyReplicas: 1},
		})

		readiness, err := NewKubernetesReadiness(client).Readiness(ctx, health.Target{
			Namespace: "prod", Name: "api", AssetType: string(update.AssetTypeDeployment),
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(readiness.Percent()).To(Equal(100.0))
	})

	It("reads daemonset scheduling counts", func() {
		client := fake.NewSimpleClientset(&appsv1.DaemonSet{
			ObjectMeta: metav1.ObjectMeta{Namespace: "kube-system", Name: "agent"},
			Status: appsv1.DaemonSetStatus{
				NumberReady:            4,
				DesiredNumberScheduled: 5,
			},
		})

		readiness, err := NewKubernetesReadiness(client).Readiness(ctx, health.Target{
			Namespace: "kube-system", Name: "agent", AssetType: string(update.AssetTypeDaemonSet),
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(readiness.ReadyReplicas).To(BeEquivalentTo(4))
		Expect(readiness.DesiredReplicas).To(BeEquivalentTo(5))
	})

	It("fails for workloads that do not exist", func() {
		_, err := NewKubernetesReadiness(fake.NewSimpleClientset()).Readiness(ctx, health.Target{
			Namespace: "prod", Name: "ghost", AssetType: string(update.AssetTypeStatefulSet),
		})
		Expect(err).To(HaveOccurred())
	})

	It("fails for asset types without a readiness signal", func() {
		_, err := NewKubernetesReadiness(fake.NewSimpleClientset()).Readiness(ctx, health.Target{
			Name: "registry", AssetType: string(update.AssetTypeContainer),
		})
		Expect(err).To(HaveOccurred())
	})
})
