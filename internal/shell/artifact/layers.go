package artifact

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// =============================================================================
// Layer Builds
// =============================================================================

// Dependency layers must be built against the compute runtime's own
// platform, not the operator's machine, so the install runs inside a
// runtime-matched build container with the output directory bind-mounted.

// LayerBuilder runs dependency installs in a build container and zips
// the result into a layer bundle.
type LayerBuilder struct {
	cli    *client.Client
	image  string // runtime-matched build image
	logger *slog.Logger
}

// NewLayerBuilder connects to the local Docker daemon.
func NewLayerBuilder(buildImage string, logger *slog.Logger) (*LayerBuilder, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &LayerBuilder{cli: cli, image: buildImage, logger: logger.With("component", "layer_builder")}, nil
}

// Close releases the daemon connection.
func (b *LayerBuilder) Close() error {
	return b.cli.Close()
}

// BuildPythonLayer installs the requirements file into a fresh output
// directory inside the build container and returns the zipped bundle,
// with packages nested under "python/" as the runtime expects.
func (b *LayerBuilder) BuildPythonLayer(ctx context.Context, requirementsPath string) ([]byte, error) {
	outDir, err := os.MkdirTemp("", "skylift-layer-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create layer staging dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	absReq, err := filepath.Abs(requirementsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve requirements path: %w", err)
	}

	if err := b.pullIfMissing(ctx); err != nil {
		return nil, err
	}

	cfg := &container.Config{
		Image:      b.image,
		Entrypoint: []string{"pip"},
		Cmd:        []string{"install", "-r", "/in/requirements.txt", "-t", "/out"},
	}
	hostCfg := &container.HostConfig{
		Binds: []string{
			absReq + ":/in/requirements.txt:ro",
			outDir + ":/out",
		},
	}

	resp, err := b.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create build container: %w", err)
	}
	defer func() {
		_ = b.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
	}()

	if err := b.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start build container: %w", err)
	}

	b.logger.Info("building layer", "image", b.image, "requirements", requirementsPath)

	statusCh, errCh := b.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return nil, fmt.Errorf("failed waiting for build container: %w", err)
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return nil, fmt.Errorf("layer build exited with status %d: %s", status.StatusCode, b.containerLogs(ctx, resp.ID))
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return ZipDir(outDir, "python")
}

func (b *LayerBuilder) pullIfMissing(ctx context.Context) error {
	_, _, err := b.cli.ImageInspectWithRaw(ctx, b.image)
	if err == nil {
		return nil
	}
	b.logger.Info("pulling build image", "image", b.image)
	reader, err := b.cli.ImagePull(ctx, b.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull build image %s: %w", b.image, err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// containerLogs grabs the tail of a failed build's output for the error
// message. Best effort.
func (b *LayerBuilder) containerLogs(ctx context.Context, id string) string {
	reader, err := b.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "20",
	})
	if err != nil {
		return ""
	}
	defer reader.Close()
	out, err := io.ReadAll(io.LimitReader(reader, 8192))
	if err != nil {
		return ""
	}
	return string(out)
}
