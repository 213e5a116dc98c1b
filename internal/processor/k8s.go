package processor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/curibio/cloud-core/internal/config"
	"github.com/curibio/cloud-core/internal/queue"
)

const (
	versionLabel        = "job_version"
	workerMemoryRequest = "4000Mi"
	postgresSecretName  = "postgres-creds"
	postgresSecretKey   = "password"
)

// K8sLauncher materializes workers as Kubernetes Jobs. Created Jobs are
// owned by the processor pod so a torn-down processor takes its idle
// workers with it.
type K8sLauncher struct {
	client    kubernetes.Interface
	namespace string
	family    string
	ecrRepo   string
	buckets   config.BucketConfig
	owner     *metav1.OwnerReference
}

func NewK8sLauncher(client kubernetes.Interface, cfg config.ProcessorConfig, buckets config.BucketConfig, owner *metav1.OwnerReference) *K8sLauncher {
	return &K8sLauncher{
		client:    client,
		namespace: cfg.Namespace,
		family:    cfg.Queue,
		ecrRepo:   cfg.ECRRepo,
		buckets:   buckets,
		owner:     owner,
	}
}

// OwnerRefFromPod resolves the processor's own pod into an owner
// reference for the Jobs it creates.
func OwnerRefFromPod(ctx context.Context, client kubernetes.Interface, namespace, podName string) (*metav1.OwnerReference, error) {
	pod, err := client.CoreV1().Pods(namespace).Get(ctx, podName, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("get own pod: %w", err)
	}
	return &metav1.OwnerReference{
		APIVersion: "v1",
		Kind:       "Pod",
		Name:       pod.Name,
		UID:        pod.UID,
	}, nil
}

// ActiveWorkers counts the Jobs labelled with the version. Completed
// Jobs still inside their TTL window are counted too, which damps
// rescaling right after a burst of workers drains the queue.
func (l *K8sLauncher) ActiveWorkers(ctx context.Context, version string) (int, error) {
	jobs, err := l.client.BatchV1().Jobs(l.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", versionLabel, version),
	})
	if err != nil {
		return 0, fmt.Errorf("list worker jobs: %w", err)
	}
	return len(jobs.Items), nil
}

// StartWorker creates one single-shot worker Job for the version.
func (l *K8sLauncher) StartWorker(ctx context.Context, version string, index int) error {
	suffix, err := randomSuffix()
	if err != nil {
		return err
	}

	job := l.workerJob(version, index, suffix)
	if _, err := l.client.BatchV1().Jobs(l.namespace).Create(ctx, job, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("create worker job: %w", err)
	}
	return nil
}

func (l *K8sLauncher) workerJob(version string, index int, suffix string) *batchv1.Job {
	name := fmt.Sprintf("%s-worker-v%s--%d--%s", l.family, version, index, suffix)
	labels := map[string]string{versionLabel: version}

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: l.namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            int32Ptr(2),
			TTLSecondsAfterFinished: int32Ptr(60),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					NodeSelector:  map[string]string{"group": "workers"},
					Containers: []corev1.Container{{
						Name:  "worker",
						Image: fmt.Sprintf("%s:%s", l.ecrRepo, version),
						Env: []corev1.EnvVar{
							{
								Name: "POSTGRES_PASSWORD",
								ValueFrom: &corev1.EnvVarSource{
									SecretKeyRef: &corev1.SecretKeySelector{
										LocalObjectReference: corev1.LocalObjectReference{Name: postgresSecretName},
										Key:                  postgresSecretKey,
									},
								},
							},
							{Name: "QUEUE", Value: queue.Name(l.family, version)},
							{Name: "UPLOADS_BUCKET_ENV", Value: l.buckets.Uploads},
							{Name: "MANTARRAY_LOGS_BUCKET_ENV", Value: l.buckets.MantarrayLogs},
						},
						Resources: corev1.ResourceRequirements{
							Requests: corev1.ResourceList{
								corev1.ResourceMemory: resource.MustParse(workerMemoryRequest),
							},
						},
					}},
				},
			},
		},
	}

	if l.owner != nil {
		job.OwnerReferences = []metav1.OwnerReference{*l.owner}
	}
	return job
}

// randomSuffix is 40 bits of entropy keeping rapid restarts from
// colliding on Job names.
func randomSuffix() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate job suffix: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func int32Ptr(v int32) *int32 { return &v }
