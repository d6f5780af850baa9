package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/agentmarketbot/minimal-provider-agent-market/internal/agent"
)

// Labels put on every container this executor starts.
const (
	LabelAttempt = "market.provider.attempt"
	LabelManaged = "market.provider.managed"
)

// API is the subset of the Docker Engine client the executor uses.
type API interface {
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// TimeoutError means the container outlived its time budget.
type TimeoutError struct {
	Timeout time.Duration
	Logs    string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("container exceeded %s timeout", e.Timeout)
}

// ExitError means the container finished with a non-zero status.
type ExitError struct {
	Code int64
	Logs string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("container exited with non-zero status code: %d", e.Code)
}

type Executor struct {
	api         API
	stopTimeout int
	log         *slog.Logger
}

func NewExecutor(api API, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{api: api, stopTimeout: 10, log: logger.With("component", "container")}
}

// Run starts a container from p, waits up to timeout for it to finish and
// returns its raw logs. The container is removed before Run returns. Logs are
// returned on failure too, as far as they could be read.
func (e *Executor) Run(ctx context.Context, attemptID string, p agent.LaunchParams, timeout time.Duration) (string, error) {
	if err := e.ensureImage(ctx, p.Image); err != nil {
		return "", err
	}
	prefix := p.NamePrefix
	if prefix == "" {
		prefix = "agent"
	}
	name := prefix + "-" + strings.Split(uuid.NewString(), "-")[0]

	cfg := &container.Config{
		Image:      p.Image,
		Entrypoint: p.Entrypoint,
		Cmd:        p.Cmd,
		Env:        p.EnvList(),
		User:       p.User,
		WorkingDir: p.WorkingDir,
		Tty:        true,
		OpenStdin:  true,
		Labels:     map[string]string{LabelAttempt: attemptID, LabelManaged: "true"},
	}
	host := &container.HostConfig{Binds: p.Binds, ExtraHosts: p.ExtraHosts}
	created, err := e.api.ContainerCreate(ctx, cfg, host, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", name, err)
	}
	id := created.ID
	log := e.log.With("container", name, "attempt_id", attemptID)
	defer func() {
		if err := e.remove(id); err != nil {
			log.Warn("remove container failed", "err", err)
		}
	}()

	if err := e.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("start container %s: %w", name, err)
	}
	log.Info("container started", "image", p.Image, "timeout", timeout)

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	statusCh, errCh := e.api.ContainerWait(wctx, id, container.WaitConditionNotRunning)
	var code int64
	select {
	case err := <-errCh:
		logs := e.logs(id)
		if errors.Is(wctx.Err(), context.DeadlineExceeded) {
			log.Error("container timed out", "timeout", timeout)
			return logs, &TimeoutError{Timeout: timeout, Logs: logs}
		}
		return logs, fmt.Errorf("wait container %s: %w", name, err)
	case st := <-statusCh:
		if st.Error != nil && st.Error.Message != "" {
			logs := e.logs(id)
			return logs, fmt.Errorf("wait container %s: %s", name, st.Error.Message)
		}
		code = st.StatusCode
	}

	logs := e.logs(id)
	if code != 0 {
		log.Error("container failed", "exit_code", code)
		return logs, &ExitError{Code: code, Logs: logs}
	}
	log.Info("container finished", "log_bytes", len(logs))
	return logs, nil
}

// Sweep stops and removes every container labelled with attemptID.
func (e *Executor) Sweep(ctx context.Context, attemptID string) error {
	list, err := e.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelAttempt+"="+attemptID)),
	})
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}
	var errs []error
	for _, c := range list {
		if err := e.remove(c.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(list) > 0 {
		e.log.Info("containers swept", "attempt_id", attemptID, "count", len(list), "failed", len(errs))
	}
	return errors.Join(errs...)
}

func (e *Executor) ensureImage(ctx context.Context, ref string) error {
	found, err := e.api.ImageList(ctx, image.ListOptions{Filters: filters.NewArgs(filters.Arg("reference", ref))})
	if err == nil && len(found) > 0 {
		return nil
	}
	e.log.Info("pulling image", "image", ref)
	rc, err := e.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

// logs reads the container output on a fresh context so a timed-out run
// still yields what it printed.
func (e *Executor) logs(id string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	rc, err := e.api.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		e.log.Warn("read logs failed", "container_id", id, "err", err)
		return ""
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		e.log.Warn("read logs failed", "container_id", id, "err", err)
	}
	return string(data)
}

func (e *Executor) remove(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	timeout := e.stopTimeout
	if err := e.api.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		e.log.Debug("stop container failed", "container_id", id, "err", err)
	}
	if err := e.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		return fmt.Errorf("remove container %s: %w", id, err)
	}
	return nil
}
