package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
)

// DefaultImage is the container image serving Chrome over CDP.
const DefaultImage = "browserless/chrome:latest"

const devtoolsPort = "3000/tcp"

// ContainerConfig configures a ContainerLauncher.
type ContainerConfig struct {
	Image  string
	Logger *slog.Logger
}

// ContainerLauncher runs each browser in its own Docker container, so that a
// session's Chrome is torn down by removing the container.
type ContainerLauncher struct {
	client *client.Client
	cfg    ContainerConfig
	http   *http.Client
}

// NewContainerLauncher connects to the Docker daemon from the environment.
func NewContainerLauncher(cfg ContainerConfig) (*ContainerLauncher, error) {
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &ContainerLauncher{
		client: cli,
		cfg:    cfg,
		http:   &http.Client{Timeout: 2 * time.Second},
	}, nil
}

func (p *ContainerLauncher) Launch(ctx context.Context) (*Instance, error) {
	sessionID := uuid.New().String()

	containerConfig := &container.Config{
		Image: p.cfg.Image,
		Labels: map[string]string{
			"session-id": sessionID,
			"managed-by": "certfetch",
		},
		Env: []string{
			"MAX_CONCURRENT_SESSIONS=1",
			"EXIT_ON_HEALTH_FAILURE=false",
		},
		ExposedPorts: nat.PortSet{
			devtoolsPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			devtoolsPort: []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: "0",
				},
			},
		},
	}

	resp, err := p.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil,
		fmt.Sprintf("certfetch-%s", sessionID[:8]))
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	inst := NewInstance(resp.ID, "", func(ctx context.Context) error {
		return p.stop(ctx, resp.ID)
	})

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.releaseDetached(inst)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := p.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		p.releaseDetached(inst)
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}
	bindings := inspect.NetworkSettings.Ports[devtoolsPort]
	if len(bindings) == 0 {
		p.releaseDetached(inst)
		return nil, fmt.Errorf("container %s exposes no devtools port", resp.ID[:12])
	}
	port := bindings[0].HostPort

	wsURL, err := p.waitForBrowserReady(ctx, port)
	if err != nil {
		p.releaseDetached(inst)
		return nil, fmt.Errorf("browser failed to become ready: %w", err)
	}
	inst.ControlURL = wsURL

	p.cfg.Logger.Debug("browser: container started", "container", resp.ID[:12], "port", port)
	return inst, nil
}

// EnsureImage pulls the browser image if it is not present locally.
func (p *ContainerLauncher) EnsureImage(ctx context.Context) error {
	images, err := p.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == p.cfg.Image {
				return nil
			}
		}
	}

	reader, err := p.client.ImagePull(ctx, p.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close releases the Docker client.
func (p *ContainerLauncher) Close() error {
	return p.client.Close()
}

func (p *ContainerLauncher) stop(ctx context.Context, containerID string) error {
	timeout := 5
	if err := p.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		p.cfg.Logger.Warn("browser: stop container", "container", containerID[:12], "error", err)
	}
	if err := p.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	p.cfg.Logger.Debug("browser: container removed", "container", containerID[:12])
	return nil
}

// releaseDetached tears down a half-started container independently of the
// caller's context, which may already be cancelled.
func (p *ContainerLauncher) releaseDetached(inst *Instance) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := inst.Release(ctx); err != nil {
		p.cfg.Logger.Warn("browser: release after failed start", "container", inst.ID, "error", err)
	}
}

// waitForBrowserReady polls /json/version until Chrome answers and returns its
// websocket debugger URL rewritten to the published host port.
func (p *ContainerLauncher) waitForBrowserReady(ctx context.Context, port string) (string, error) {
	versionURL := fmt.Sprintf("http://127.0.0.1:%s/json/version", port)
	maxRetries := 20

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		wsURL, err := p.debuggerURL(ctx, versionURL, port)
		if err == nil {
			return wsURL, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	return "", fmt.Errorf("browser did not become ready after %d retries: %w", maxRetries, lastErr)
}

func (p *ContainerLauncher) debuggerURL(ctx context.Context, versionURL, port string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, versionURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("json/version returned %d", resp.StatusCode)
	}

	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		return "", fmt.Errorf("decode json/version: %w", err)
	}
	if version.WebSocketDebuggerURL == "" {
		return fmt.Sprintf("ws://127.0.0.1:%s", port), nil
	}

	u, err := url.Parse(version.WebSocketDebuggerURL)
	if err != nil {
		return "", fmt.Errorf("parse debugger url: %w", err)
	}
	u.Host = "127.0.0.1:" + port
	return u.String(), nil
}
