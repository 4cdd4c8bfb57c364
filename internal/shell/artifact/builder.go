package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// =============================================================================
// Builder
// =============================================================================

var ErrNoSource = errors.New("source directory is required")

// LayerSource names one dependency layer and the requirements file its
// content is installed from.
type LayerSource struct {
	Name         string
	Requirements string
}

// Bundle is the build output: the function code zip plus zero or more
// layer zips.
type Bundle struct {
	Code   []byte
	Layers []LayerBundle
}

// LayerBundle is one built dependency layer, not yet published.
type LayerBundle struct {
	Name string
	Zip  []byte
}

// Builder produces the deployable bundles for one run.
type Builder struct {
	sourceDir string
	layers    []LayerSource
	layerBld  *LayerBuilder // nil when no layers are configured
	logger    *slog.Logger
}

// NewBuilder configures a builder. layerBld may be nil when layers is
// empty.
func NewBuilder(sourceDir string, layers []LayerSource, layerBld *LayerBuilder, logger *slog.Logger) *Builder {
	return &Builder{
		sourceDir: sourceDir,
		layers:    layers,
		layerBld:  layerBld,
		logger:    logger.With("component", "builder"),
	}
}

// Build zips the function source and builds every configured layer.
func (b *Builder) Build(ctx context.Context) (Bundle, error) {
	if b.sourceDir == "" {
		return Bundle{}, ErrNoSource
	}

	code, err := ZipDir(b.sourceDir, "")
	if err != nil {
		return Bundle{}, err
	}
	b.logger.Info("function bundle built", "source", b.sourceDir, "bytes", len(code))

	bundle := Bundle{Code: code}
	for _, src := range b.layers {
		if b.layerBld == nil {
			return Bundle{}, fmt.Errorf("layer %s configured but no layer builder available", src.Name)
		}
		zipped, err := b.layerBld.BuildPythonLayer(ctx, src.Requirements)
		if err != nil {
			return Bundle{}, fmt.Errorf("failed to build layer %s: %w", src.Name, err)
		}
		b.logger.Info("layer bundle built", "layer", src.Name, "bytes", len(zipped))
		bundle.Layers = append(bundle.Layers, LayerBundle{Name: src.Name, Zip: zipped})
	}
	return bundle, nil
}
