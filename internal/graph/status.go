package graph

import (
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
)

// Status is the health of a resource as drawn on the map.
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

func (s Status) severity() int {
	switch s {
	case StatusError:
		return 2
	case StatusWarning:
		return 1
	default:
		return 0
	}
}

// GetStatus computes the status of a single resource. Kinds without a
// modelled status are always successful.
func GetStatus(r *Resource) Status {
	if r == nil || r.Object == nil {
		return StatusSuccess
	}
	switch obj := r.Object.(type) {
	case *corev1.Pod:
		return podStatus(obj)
	case *appsv1.Deployment:
		return replicaStatus(obj.Status.ReadyReplicas, obj.Spec.Replicas)
	case *appsv1.ReplicaSet:
		return replicaStatus(obj.Status.ReadyReplicas, obj.Spec.Replicas)
	case *appsv1.StatefulSet:
		return replicaStatus(obj.Status.ReadyReplicas, obj.Spec.Replicas)
	case *appsv1.DaemonSet:
		if obj.Status.NumberReady < obj.Status.DesiredNumberScheduled {
			return StatusWarning
		}
		return StatusSuccess
	}
	return StatusSuccess
}

func podStatus(pod *corev1.Pod) Status {
	switch pod.Status.Phase {
	case corev1.PodFailed:
		return StatusError
	case corev1.PodSucceeded:
		return StatusSuccess
	case corev1.PodRunning:
		for _, c := range pod.Status.Conditions {
			if c.Type == corev1.PodReady && c.Status == corev1.ConditionTrue {
				return StatusSuccess
			}
		}
		return StatusWarning
	case corev1.PodPending:
		return StatusWarning
	}
	return StatusSuccess
}

// replicaStatus treats an unset desired count as the API default of 1.
func replicaStatus(ready int32, desired *int32) Status {
	want := int32(1)
	if desired != nil {
		want = *desired
	}
	if ready < want {
		return StatusWarning
	}
	return StatusSuccess
}

// AggregateStatus returns the worst status found among the resources in
// nodes and their descendants.
func AggregateStatus(nodes []*Node) Status {
	worst := StatusSuccess
	for _, n := range nodes {
		ForEachNode(n, func(child *Node) {
			if child.Type != NodeTypeKubeObject {
				return
			}
			if s := GetStatus(child.Resource); s.severity() > worst.severity() {
				worst = s
			}
		})
	}
	return worst
}

// CountStatus returns how many leaves under nodes are in each status.
func CountStatus(nodes []*Node) map[Status]int {
	counts := map[Status]int{}
	for _, n := range nodes {
		ForEachNode(n, func(child *Node) {
			if child.Type == NodeTypeKubeObject {
				counts[GetStatus(child.Resource)]++
			}
		})
	}
	return counts
}
