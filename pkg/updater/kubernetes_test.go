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

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/sentinel-updater/sentinel-updater/pkg/update"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func testDeployment(namespace, name, image string) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name},
		Spec: appsv1.DeploymentSpec{
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{Name: name, Image: image},
					},
				},
			},
		},
	}
}

var _ = Describe("Kubernetes backend", func() {
	asset := update.Asset{
		ID:        "prod/api",
		Name:      "api",
		Namespace: "prod",
		Type:      update.AssetTypeDeployment,
	}

	It("retags the deployment image on apply", func() {
		client := fake.NewSimpleClientset(testDeployment("prod", "api", "ghcr.io/acme/api:1.2.3"))
		backend := NewKubernetesUpdater(client)

		outcome := backend.Apply(context.Background(), asset, "1.2.4")
		Expect(outcome.Succeeded()).To(BeTrue())

		deployment, err := client.AppsV1().Deployments("prod").Get(context.Background(), "api", metav1.GetOptions{})
		Expect(err).ToNot(HaveOccurred())
		Expect(deployment.Spec.Template.Spec.Containers[0].Image).To(Equal("ghcr.io/acme/api:1.2.4"))
	})

	It("retags the deployment image back on revert", func() {
		client := fake.NewSimpleClientset(testDeployment("prod", "api", "ghcr.io/acme/api:1.2.4"))
		backend := NewKubernetesUpdater(client)

		outcome := backend.Revert(context.Background(), asset, "1.2.3")
		Expect(outcome.Succeeded()).To(BeTrue())

		deployment, err := client.AppsV1().Deployments("prod").Get(context.Background(), "api", metav1.GetOptions{})
		Expect(err).ToNot(HaveOccurred())
		Expect(deployment.Spec.Template.Spec.Containers[0].Image).To(Equal("ghcr.io/acme/api:1.2.3"))
	})

	It("fails when the workload does not exist", func() {
		backend := NewKubernetesUpdater(fake.NewSimpleClientset())
		outcome := backend.Apply(context.Background(), asset, "1.2.4")
		Expect(outcome.Succeeded()).To(BeFalse())
	})

	It("fails for non Kubernetes asset types", func() {
		backend := NewKubernetesUpdater(fake.NewSimpleClientset())
		container := update.Asset{ID: "registry", Name: "registry", Type: update.AssetTypeContainer}
		outcome := backend.Apply(context.Background(), container, "2.8.3")
		Expect(outcome.Succeeded()).To(BeFalse())
	})

	It("picks the container named after the workload in multi-container pods", func() {
		deployment := testDeployment("prod", "api", "ghcr.io/acme/api:1.2.3")
		deployment.Spec.Template.Spec.Containers = append(
			[]corev1.Container{{Name: "proxy", Image: "envoyproxy/envoy:v1.20.0"}},
			deployment.Spec.Template.Spec.Containers...)

		client := fake.NewSimpleClientset(deployment)
		backend := NewKubernetesUpdater(client)

		outcome := backend.Apply(context.Background(), asset, "1.2.4")
		Expect(outcome.Succeeded()).To(BeTrue())

		updated, err := client.AppsV1().Deployments("prod").Get(context.Background(), "api", metav1.GetOptions{})
		Expect(err).ToNot(HaveOccurred())
		Expect(updated.Spec.Template.Spec.Containers[0].Image).To(Equal("envoyproxy/envoy:v1.20.0"))
		Expect(updated.Spec.Template.Spec.Containers[1].Image).To(Equal("ghcr.io/acme/api:1.2.4"))
	})
})

var _ = Describe("Pod spec retagging", func() {
	It("refuses ambiguous multi-container pods", func() {
		podSpec := &corev1.PodSpec{
			Containers: []corev1.Container{
				{Name: "one", Image: "a/b:1"},
				{Name: "two", Image: "c/d:1"},
			},
		}
		Expect(retagPodSpec(podSpec, "api", "2")).To(HaveOccurred())
	})
})
