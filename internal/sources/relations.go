package sources

import (
	admissionregistrationv1 "k8s.io/api/admissionregistration/v1"
	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	policyv1 "k8s.io/api/policy/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"

	"github.com/kubilitics/resourcemap/internal/graph"
)

// objectOf extracts the typed object wrapped by n.
func objectOf[T graph.Object](n *graph.Node) (T, bool) {
	var zero T
	if n == nil || n.Resource == nil || n.Resource.Object == nil {
		return zero, false
	}
	obj, ok := n.Resource.Object.(T)
	return obj, ok
}

// makeRelation builds a Relation whose predicate only sees matching types.
func makeRelation[F, T graph.Object](from, to string, match func(F, T) bool) Relation {
	return Relation{
		FromSource: from,
		ToSource:   to,
		Predicate: func(a, b *graph.Node) bool {
			f, ok := objectOf[F](a)
			if !ok {
				return false
			}
			t, ok := objectOf[T](b)
			if !ok {
				return false
			}
			return match(f, t)
		},
	}
}

// makeOwnerRelation links objects of kind from to any object listed in
// their owner references.
func makeOwnerRelation(from string) Relation {
	return Relation{
		FromSource: from,
		Predicate: func(a, b *graph.Node) bool {
			if a.Resource == nil || a.Resource.Object == nil || b.Resource == nil {
				return false
			}
			uid := b.Resource.UID()
			for _, ref := range a.Resource.Object.GetOwnerReferences() {
				if string(ref.UID) == uid {
					return true
				}
			}
			return false
		},
	}
}

func sameNamespace(a, b metav1.Object) bool {
	return a.GetNamespace() == b.GetNamespace()
}

func podUsesConfigMap(spec corev1.PodSpec, name string) bool {
	for _, v := range spec.Volumes {
		if v.ConfigMap != nil && v.ConfigMap.Name == name {
			return true
		}
		if v.Projected != nil {
			for _, s := range v.Projected.Sources {
				if s.ConfigMap != nil && s.ConfigMap.Name == name {
					return true
				}
			}
		}
	}
	for _, c := range allContainers(spec) {
		for _, env := range c.EnvFrom {
			if env.ConfigMapRef != nil && env.ConfigMapRef.Name == name {
				return true
			}
		}
		for _, env := range c.Env {
			if env.ValueFrom != nil && env.ValueFrom.ConfigMapKeyRef != nil && env.ValueFrom.ConfigMapKeyRef.Name == name {
				return true
			}
		}
	}
	return false
}

func podUsesSecret(spec corev1.PodSpec, name string) bool {
	for _, v := range spec.Volumes {
		if v.Secret != nil && v.Secret.SecretName == name {
			return true
		}
		if v.Projected != nil {
			for _, s := range v.Projected.Sources {
				if s.Secret != nil && s.Secret.Name == name {
					return true
				}
			}
		}
	}
	for _, ref := range spec.ImagePullSecrets {
		if ref.Name == name {
			return true
		}
	}
	for _, c := range allContainers(spec) {
		for _, env := range c.EnvFrom {
			if env.SecretRef != nil && env.SecretRef.Name == name {
				return true
			}
		}
		for _, env := range c.Env {
			if env.ValueFrom != nil && env.ValueFrom.SecretKeyRef != nil && env.ValueFrom.SecretKeyRef.Name == name {
				return true
			}
		}
	}
	return false
}

func allContainers(spec corev1.PodSpec) []corev1.Container {
	out := make([]corev1.Container, 0, len(spec.InitContainers)+len(spec.Containers))
	out = append(out, spec.InitContainers...)
	return append(out, spec.Containers...)
}

func selectorMatches(selector map[string]string, target map[string]string) bool {
	if len(selector) == 0 {
		return false
	}
	return labels.SelectorFromSet(selector).Matches(labels.Set(target))
}

func labelSelectorMatches(selector *metav1.LabelSelector, target map[string]string) bool {
	if selector == nil {
		return false
	}
	s, err := metav1.LabelSelectorAsSelector(selector)
	if err != nil {
		return false
	}
	return s.Matches(labels.Set(target))
}

func ingressBackendServices(ing *networkingv1.Ingress) []string {
	var out []string
	if b := ing.Spec.DefaultBackend; b != nil && b.Service != nil {
		out = append(out, b.Service.Name)
	}
	for _, rule := range ing.Spec.Rules {
		if rule.HTTP == nil {
			continue
		}
		for _, p := range rule.HTTP.Paths {
			if p.Backend.Service != nil {
				out = append(out, p.Backend.Service.Name)
			}
		}
	}
	return out
}

func webhookServiceMatches(cfgs []admissionregistrationv1.WebhookClientConfig, svc *corev1.Service) bool {
	for _, c := range cfgs {
		if c.Service != nil && c.Service.Name == svc.Name && c.Service.Namespace == svc.Namespace {
			return true
		}
	}
	return false
}

func serviceAccountName(spec corev1.PodSpec) string {
	if spec.ServiceAccountName == "" {
		return "default"
	}
	return spec.ServiceAccountName
}

// Relations returns every cross kind relation between the kube sources.
func Relations() []Relation {
	return []Relation{
		makeRelation("Pod", "ConfigMap", func(pod *corev1.Pod, cm *corev1.ConfigMap) bool {
			return sameNamespace(pod, cm) && podUsesConfigMap(pod.Spec, cm.Name)
		}),
		makeRelation("Job", "ConfigMap", func(job *batchv1.Job, cm *corev1.ConfigMap) bool {
			return sameNamespace(job, cm) && podUsesConfigMap(job.Spec.Template.Spec, cm.Name)
		}),
		makeRelation("Pod", "Secret", func(pod *corev1.Pod, secret *corev1.Secret) bool {
			return sameNamespace(pod, secret) && podUsesSecret(pod.Spec, secret.Name)
		}),
		makeRelation("Job", "Secret", func(job *batchv1.Job, secret *corev1.Secret) bool {
			return sameNamespace(job, secret) && podUsesSecret(job.Spec.Template.Spec, secret.Name)
		}),
		makeRelation("MutatingWebhookConfiguration", "Service", func(cfg *admissionregistrationv1.MutatingWebhookConfiguration, svc *corev1.Service) bool {
			clients := make([]admissionregistrationv1.WebhookClientConfig, 0, len(cfg.Webhooks))
			for _, w := range cfg.Webhooks {
				clients = append(clients, w.ClientConfig)
			}
			return webhookServiceMatches(clients, svc)
		}),
		makeRelation("ValidatingWebhookConfiguration", "Service", func(cfg *admissionregistrationv1.ValidatingWebhookConfiguration, svc *corev1.Service) bool {
			clients := make([]admissionregistrationv1.WebhookClientConfig, 0, len(cfg.Webhooks))
			for _, w := range cfg.Webhooks {
				clients = append(clients, w.ClientConfig)
			}
			return webhookServiceMatches(clients, svc)
		}),
		makeRelation("Service", "Pod", func(svc *corev1.Service, pod *corev1.Pod) bool {
			return sameNamespace(svc, pod) && selectorMatches(svc.Spec.Selector, pod.Labels)
		}),
		makeRelation("Endpoints", "Service", func(ep *corev1.Endpoints, svc *corev1.Service) bool {
			return sameNamespace(ep, svc) && ep.Name == svc.Name
		}),
		makeRelation("Ingress", "Service", func(ing *networkingv1.Ingress, svc *corev1.Service) bool {
			if !sameNamespace(ing, svc) {
				return false
			}
			for _, name := range ingressBackendServices(ing) {
				if name == svc.Name {
					return true
				}
			}
			return false
		}),
		makeRelation("Ingress", "Secret", func(ing *networkingv1.Ingress, secret *corev1.Secret) bool {
			if !sameNamespace(ing, secret) {
				return false
			}
			for _, tls := range ing.Spec.TLS {
				if tls.SecretName == secret.Name {
					return true
				}
			}
			return false
		}),
		makeRelation("Ingress", "IngressClass", func(ing *networkingv1.Ingress, class *networkingv1.IngressClass) bool {
			return ing.Spec.IngressClassName != nil && *ing.Spec.IngressClassName == class.Name
		}),
		makeRelation("NetworkPolicy", "Pod", func(np *networkingv1.NetworkPolicy, pod *corev1.Pod) bool {
			return sameNamespace(np, pod) && labelSelectorMatches(&np.Spec.PodSelector, pod.Labels)
		}),
		makeRelation("RoleBinding", "Role", func(rb *rbacv1.RoleBinding, role *rbacv1.Role) bool {
			return sameNamespace(rb, role) && rb.RoleRef.Kind == "Role" && rb.RoleRef.Name == role.Name
		}),
		makeRelation("RoleBinding", "ServiceAccount", func(rb *rbacv1.RoleBinding, sa *corev1.ServiceAccount) bool {
			for _, s := range rb.Subjects {
				if s.Kind != rbacv1.ServiceAccountKind || s.Name != sa.Name {
					continue
				}
				ns := s.Namespace
				if ns == "" {
					ns = rb.Namespace
				}
				if ns == sa.Namespace {
					return true
				}
			}
			return false
		}),
		makeRelation("ServiceAccount", "Deployment", func(sa *corev1.ServiceAccount, d *appsv1.Deployment) bool {
			return sameNamespace(sa, d) && serviceAccountName(d.Spec.Template.Spec) == sa.Name
		}),
		makeRelation("ServiceAccount", "DaemonSet", func(sa *corev1.ServiceAccount, ds *appsv1.DaemonSet) bool {
			return sameNamespace(sa, ds) && serviceAccountName(ds.Spec.Template.Spec) == sa.Name
		}),
		makeRelation("PersistentVolumeClaim", "Pod", func(pvc *corev1.PersistentVolumeClaim, pod *corev1.Pod) bool {
			if !sameNamespace(pvc, pod) {
				return false
			}
			for _, v := range pod.Spec.Volumes {
				if v.PersistentVolumeClaim != nil && v.PersistentVolumeClaim.ClaimName == pvc.Name {
					return true
				}
			}
			return false
		}),
		makeRelation("HorizontalPodAutoscaler", "", func(hpa *autoscalingv2.HorizontalPodAutoscaler, target graph.Object) bool {
			ref := hpa.Spec.ScaleTargetRef
			return sameNamespace(hpa, target) && ref.Name == target.GetName() && kindOf(target) == ref.Kind
		}),
		makeRelation("PodDisruptionBudget", "Pod", func(pdb *policyv1.PodDisruptionBudget, pod *corev1.Pod) bool {
			return sameNamespace(pdb, pod) && labelSelectorMatches(pdb.Spec.Selector, pod.Labels)
		}),
		makeOwnerRelation("Pod"),
		makeOwnerRelation("ReplicaSet"),
		makeOwnerRelation("Job"),
	}
}

// kindOf names the scale targets an autoscaler may point at.
func kindOf(obj graph.Object) string {
	switch obj.(type) {
	case *appsv1.Deployment:
		return "Deployment"
	case *appsv1.StatefulSet:
		return "StatefulSet"
	case *appsv1.ReplicaSet:
		return "ReplicaSet"
	}
	return ""
}
