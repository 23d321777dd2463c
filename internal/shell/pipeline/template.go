package pipeline

import (
	"context"
	"fmt"

	"github.com/artpar/releaser/internal/core/domain"
	"github.com/artpar/releaser/internal/core/environment"
)

// DefaultMetadataFile is the orchestrators file of the metadata repository.
const DefaultMetadataFile = "orchestrators.json"

// TemplateSource says where the environment template comes from. Variables
// wins when set; otherwise the template is read from MetadataFile in the
// MetadataRepository (a group/project path) at MetadataRef, or at the
// repository default branch when MetadataRef is empty.
type TemplateSource struct {
	Variables []environment.Variable

	MetadataRepository string
	MetadataFile       string
	MetadataRef        string
}

// loadTemplate resolves the environment template for the backend named
// orchestrator.
func loadTemplate(ctx context.Context, src TemplateSource, host SourceHost, orchestrator string) ([]environment.Variable, error) {
	if len(src.Variables) > 0 {
		return src.Variables, nil
	}
	if src.MetadataRepository == "" {
		return nil, domain.ConfigError("loadTemplate", "no environment variables configured and no metadata repository set", nil)
	}

	project, err := findProject(ctx, host, src.MetadataRepository)
	if err != nil {
		return nil, domain.ConfigError("loadTemplate", "metadata repository lookup", err)
	}
	if project == nil {
		return nil, domain.ConfigError("loadTemplate", fmt.Sprintf("metadata repository %q not found", src.MetadataRepository), nil)
	}

	file := src.MetadataFile
	if file == "" {
		file = DefaultMetadataFile
	}
	ref := src.MetadataRef
	if ref == "" {
		ref = project.DefaultBranch
	}

	data, err := host.RawFile(ctx, project.ID, file, ref)
	if err != nil {
		return nil, domain.ConfigError("loadTemplate", "read "+file, err)
	}
	if data == nil {
		return nil, domain.ConfigError("loadTemplate", fmt.Sprintf("%s not found in %s@%s", file, src.MetadataRepository, ref), nil)
	}

	return environment.ParseTemplate(data, orchestrator)
}
