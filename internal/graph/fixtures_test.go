package graph

import (
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

func podNode(uid, namespace, name string, mutate ...func(*corev1.Pod)) *Node {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			UID:       types.UID(uid),
			Namespace: namespace,
			Name:      name,
		},
	}
	for _, m := range mutate {
		m(pod)
	}
	return NewKubeObjectNode("Pod", pod)
}

func deploymentNode(uid, namespace, name string) *Node {
	return NewKubeObjectNode("Deployment", &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{UID: types.UID(uid), Namespace: namespace, Name: name},
	})
}

func withLabels(labels map[string]string) func(*corev1.Pod) {
	return func(p *corev1.Pod) { p.Labels = labels }
}

func withNodeName(node string) func(*corev1.Pod) {
	return func(p *corev1.Pod) { p.Spec.NodeName = node }
}

func withPhase(phase corev1.PodPhase) func(*corev1.Pod) {
	return func(p *corev1.Pod) { p.Status.Phase = phase }
}

// groupingFixture mirrors the four pods used across the grouping tests:
// pods 1 and 3 share a namespace and instance label, pod 2 is scheduled
// on node1.
func groupingFixture() []*Node {
	instance := map[string]string{InstanceLabel: "instance1"}
	return []*Node{
		podNode("1", "ns1", "pod1", withLabels(instance)),
		podNode("2", "ns2", "pod2", withNodeName("node1")),
		podNode("3", "ns1", "pod3", withLabels(instance)),
		podNode("4", "ns2", "pod4"),
	}
}

func edge(id, source, target string) *Edge {
	return &Edge{ID: id, Source: source, Target: target}
}

func ids(nodes []*Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func edgeIDs(edges []*Edge) []string {
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.ID)
	}
	return out
}
