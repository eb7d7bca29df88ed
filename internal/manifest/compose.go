package manifest

import (
	"context"
	"fmt"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"

	"github.com/atlasdeploy/cascade/internal/core/domain"
)

// =============================================================================
// Compose Import
// =============================================================================

// FromCompose derives coordination units from a Docker Compose file:
// each service becomes a unit, its depends_on entries become
// prerequisites, and its first published port becomes the probe target.
// Services are returned in stable name order.
func FromCompose(yamlContent string) ([]domain.Unit, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyManifest
	}

	project, err := loadComposeProject(yamlContent)
	if err != nil {
		return nil, err
	}
	if len(project.Services) == 0 {
		return nil, ErrNoUnits
	}

	units := make([]domain.Unit, 0, len(project.Services))
	for _, name := range sortedKeys(project.Services) {
		svc := project.Services[name]
		unit := domain.Unit{
			ID:    name,
			Image: svc.Image,
		}
		for _, dep := range sortedKeys(svc.DependsOn) {
			unit.Needs = append(unit.Needs, dep)
		}
		for _, p := range svc.Ports {
			if p.Published != "" {
				unit.Target = fmt.Sprintf("http://localhost:%s", p.Published)
				break
			}
		}
		if len(svc.Environment) > 0 {
			unit.Env = make(map[string]string, len(svc.Environment))
			for k, v := range svc.Environment {
				if v != nil {
					unit.Env[k] = *v
				}
			}
		}
		units = append(units, unit)
	}
	return units, nil
}

// loadComposeProject loads an in-memory compose file with compose-go.
func loadComposeProject(yamlContent string) (*types.Project, error) {
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil {
		return nil, fmt.Errorf("parse compose file: %w", err)
	}
	if dict == nil {
		return nil, ErrEmptyManifest
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(yamlContent),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("cascade-import", false)
		opts.SkipValidation = false
		opts.SkipInterpolation = false
		// In-memory load: no path resolution, no external files.
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		return nil, fmt.Errorf("load compose project: %w", err)
	}
	return project, nil
}
