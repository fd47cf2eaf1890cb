package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// KubernetesConfig holds configuration for the Kubernetes runtime.
type KubernetesConfig struct {
	// Namespace where scraper jobs are created.
	Namespace string
	// ServiceAccount for scraper pods (optional).
	ServiceAccount string
	// Image is the scraper image every job runs.
	Image string
	// Env is injected into every scraper pod.
	Env map[string]string
	// Resource limits for scraper pods.
	CPULimit    string
	MemoryLimit string
}

// KubernetesRuntime implements the Runtime interface using Kubernetes
// Jobs, one Job object per scraper run.
type KubernetesRuntime struct {
	clientset kubernetes.Interface
	config    KubernetesConfig
	log       *slog.Logger
}

// KubernetesHandle represents a running Kubernetes Job.
type KubernetesHandle struct {
	clientset kubernetes.Interface
	namespace string
	jobName   string
	podName   string // populated once the pod exists
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE") // Windows
}

// NewKubernetesRuntime creates a new Kubernetes-based runtime. It tries
// in-cluster configuration first and falls back to kubeconfig for local
// development.
func NewKubernetesRuntime(cfg KubernetesConfig, logger *slog.Logger) (*KubernetesRuntime, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := filepath.Join(homeDir(), ".kube", "config")
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
		logger.Info("using kubeconfig", "path", kubeconfig)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.CPULimit == "" {
		cfg.CPULimit = "1"
	}
	if cfg.MemoryLimit == "" {
		cfg.MemoryLimit = "2Gi"
	}

	return &KubernetesRuntime{clientset: clientset, config: cfg, log: logger}, nil
}

// newKubernetesRuntimeWithClient is used by tests with a fake clientset.
func newKubernetesRuntimeWithClient(clientset kubernetes.Interface, cfg KubernetesConfig, logger *slog.Logger) *KubernetesRuntime {
	return &KubernetesRuntime{clientset: clientset, config: cfg, log: logger}
}

// Start implements Runtime.Start by creating a Kubernetes Job.
func (k *KubernetesRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	jobName := fmt.Sprintf("scraper-%s", opts.JobID)

	env := []corev1.EnvVar{{Name: "PYTHONUNBUFFERED", Value: "1"}}
	for key, value := range k.config.Env {
		env = append(env, corev1.EnvVar{Name: key, Value: value})
	}
	for key, value := range opts.Env {
		env = append(env, corev1.EnvVar{Name: key, Value: value})
	}

	resources := corev1.ResourceRequirements{
		Limits: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse(k.config.CPULimit),
			corev1.ResourceMemory: resource.MustParse(k.config.MemoryLimit),
		},
	}

	backoffLimit := int32(0) // no retries, a failed job stays failed
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: k.config.Namespace,
			Labels: map[string]string{
				"app.kubernetes.io/managed-by": "scraperd",
				"scraperd/job-id":              opts.JobID,
			},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{
						"job-name":                     jobName,
						"app.kubernetes.io/managed-by": "scraperd",
					},
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:      "scraper",
							Image:     k.config.Image,
							Command:   []string{"python", "-m", fmt.Sprintf("app.cpt_automated_scripts.%s.main", opts.ScraperType)},
							Env:       env,
							Resources: resources,
						},
					},
				},
			},
		},
	}

	if k.config.ServiceAccount != "" {
		job.Spec.Template.Spec.ServiceAccountName = k.config.ServiceAccount
	}

	created, err := k.clientset.BatchV1().Jobs(k.config.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes job: %w", err)
	}

	k.log.Info("created kubernetes job", "job", created.Name, "namespace", k.config.Namespace)

	return &KubernetesHandle{
		clientset: k.clientset,
		namespace: k.config.Namespace,
		jobName:   created.Name,
	}, nil
}

// ID returns the Kubernetes Job name.
func (h *KubernetesHandle) ID() string {
	return h.jobName
}

// Wait blocks until the job's pod completes and returns the result.
func (h *KubernetesHandle) Wait(ctx context.Context) (ExitResult, error) {
	podName, err := h.waitForPod(ctx)
	if err != nil {
		return ExitResult{ExitCode: -1, Error: err}, err
	}
	h.podName = podName

	watcher, err := h.clientset.CoreV1().Pods(h.namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector: fmt.Sprintf("metadata.name=%s", podName),
	})
	if err != nil {
		return ExitResult{ExitCode: -1, Error: err}, err
	}
	defer watcher.Stop()

	for event := range watcher.ResultChan() {
		if event.Type == watch.Error {
			err := fmt.Errorf("pod watch error")
			return ExitResult{ExitCode: -1, Error: err}, err
		}

		pod, ok := event.Object.(*corev1.Pod)
		if !ok {
			continue
		}

		switch pod.Status.Phase {
		case corev1.PodSucceeded:
			return ExitResult{ExitCode: 0}, nil

		case corev1.PodFailed:
			exitCode := -1
			var errMsg error
			if len(pod.Status.ContainerStatuses) > 0 {
				cs := pod.Status.ContainerStatuses[0]
				if cs.State.Terminated != nil {
					exitCode = int(cs.State.Terminated.ExitCode)
					if cs.State.Terminated.Reason != "" {
						errMsg = fmt.Errorf("%s", cs.State.Terminated.Reason)
					}
				}
			}
			return ExitResult{ExitCode: exitCode, Error: errMsg}, nil
		}
	}

	return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
}

// waitForPod waits for the job's pod to be created and returns its name.
func (h *KubernetesHandle) waitForPod(ctx context.Context) (string, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			pods, err := h.clientset.CoreV1().Pods(h.namespace).List(ctx, metav1.ListOptions{
				LabelSelector: fmt.Sprintf("job-name=%s", h.jobName),
			})
			if err != nil {
				return "", err
			}
			if len(pods.Items) > 0 {
				return pods.Items[0].Name, nil
			}
		}
	}
}

// Stop deletes the pod gracefully; Kubernetes sends TERM and escalates
// to KILL after the grace period on its own.
func (h *KubernetesHandle) Stop(ctx context.Context, grace time.Duration) error {
	if h.podName == "" {
		return h.Remove(ctx)
	}
	graceSeconds := int64(grace.Seconds())
	return h.clientset.CoreV1().Pods(h.namespace).Delete(ctx, h.podName, metav1.DeleteOptions{
		GracePeriodSeconds: &graceSeconds,
	})
}

// Kill deletes the pod immediately.
func (h *KubernetesHandle) Kill(ctx context.Context) error {
	if h.podName == "" {
		return nil
	}
	var zero int64
	return h.clientset.CoreV1().Pods(h.namespace).Delete(ctx, h.podName, metav1.DeleteOptions{
		GracePeriodSeconds: &zero,
	})
}

// Remove deletes the Job object and its pods.
func (h *KubernetesHandle) Remove(ctx context.Context) error {
	propagation := metav1.DeletePropagationForeground
	err := h.clientset.BatchV1().Jobs(h.namespace).Delete(ctx, h.jobName, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", h.jobName, err)
	}
	return nil
}

// StreamLogs returns a follow stream of the pod's logs.
func (h *KubernetesHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	if h.podName == "" {
		podName, err := h.waitForPod(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to find pod for job %s: %w", h.jobName, err)
		}
		h.podName = podName
	}

	if err := h.waitForContainerReady(ctx); err != nil {
		return nil, err
	}

	req := h.clientset.CoreV1().Pods(h.namespace).GetLogs(h.podName, &corev1.PodLogOptions{
		Container: "scraper",
		Follow:    true,
	})

	return req.Stream(ctx)
}

// waitForContainerReady waits for the container to start or finish.
func (h *KubernetesHandle) waitForContainerReady(ctx context.Context) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pod, err := h.clientset.CoreV1().Pods(h.namespace).Get(ctx, h.podName, metav1.GetOptions{})
			if err != nil {
				return err
			}
			switch pod.Status.Phase {
			case corev1.PodRunning, corev1.PodSucceeded, corev1.PodFailed:
				return nil
			}
		}
	}
}
