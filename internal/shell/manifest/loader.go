// Package manifest loads the desired API surface from an OpenAPI
// document. Paths and operations become the desired route tree; the
// deployer does not interpret schemas or response bodies.
package manifest

import (
	"errors"
	"fmt"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/skylift/skylift/internal/core/domain"
)

var ErrNoPaths = errors.New("manifest declares no paths")

// Load reads an OpenAPI document and returns the desired routes in
// stable (sorted-path) order.
func Load(path string) ([]domain.RouteSpec, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest %s: %w", path, err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return routesFromDoc(doc)
}

func routesFromDoc(doc *openapi3.T) ([]domain.RouteSpec, error) {
	if doc.Paths == nil || doc.Paths.Len() == 0 {
		return nil, ErrNoPaths
	}

	pathMap := doc.Paths.Map()
	paths := make([]string, 0, len(pathMap))
	for p := range pathMap {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	routes := make([]domain.RouteSpec, 0, len(paths))
	for _, p := range paths {
		item := pathMap[p]
		ops := item.Operations()
		if len(ops) == 0 {
			continue
		}

		verbs := make([]string, 0, len(ops))
		for verb := range ops {
			verbs = append(verbs, verb)
		}
		sort.Strings(verbs)

		methods := make([]domain.MethodSpec, 0, len(verbs))
		for _, verb := range verbs {
			methods = append(methods, domain.MethodSpec{
				Verb:        verb,
				AuthMode:    "NONE",
				Integration: domain.IntegrationProxy,
				KeyRequired: requiresKey(ops[verb]),
			})
		}
		routes = append(routes, domain.RouteSpec{Path: p, Methods: methods})
	}

	if err := domain.ValidateRoutes(routes); err != nil {
		return nil, err
	}
	return routes, nil
}

// requiresKey reports whether the operation declares any security
// requirement; the deployer maps that onto gateway key enforcement.
func requiresKey(op *openapi3.Operation) bool {
	if op.Security == nil {
		return false
	}
	for _, req := range *op.Security {
		if len(req) > 0 {
			return true
		}
	}
	return false
}
