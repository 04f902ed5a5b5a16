package recipe

import (
	"strings"

	"github.com/melih/lighthouse/internal/core/domain"
)

// Step is one stage of the build pipeline. Stages run in the order Steps
// returns them so that rarely changing layers are cached ahead of the source.
type Step struct {
	Name        domain.StepName
	Description string
}

// Steps lists the build stages for r. The os-packages stage is omitted when
// the recipe installs no packages.
func Steps(r domain.Recipe) []Step {
	r = r.WithDefaults()
	steps := []Step{{Name: domain.StepBaseImage, Description: "select " + r.BaseImage}}
	if len(r.Packages) > 0 {
		steps = append(steps, Step{
			Name:        domain.StepOSPackages,
			Description: "install " + strings.Join(r.Packages, ", "),
		})
	}
	return append(steps,
		Step{Name: domain.StepDependencies, Description: "pip install -r " + r.Manifest},
		Step{Name: domain.StepSource, Description: "copy source into " + r.WorkDir},
		Step{Name: domain.StepExpose, Description: "declare port and entrypoint " + r.Entrypoint.String()},
	)
}

// StepFor maps a Dockerfile instruction, as echoed by the builder
// ("Step 3/9 : RUN apt-get update ..."), to the build stage it belongs to.
func StepFor(instruction string) domain.StepName {
	keyword, rest, _ := strings.Cut(strings.TrimSpace(instruction), " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToUpper(keyword) {
	case "FROM", "ENV", "WORKDIR":
		return domain.StepBaseImage
	case "RUN":
		if strings.Contains(rest, "apt-get") {
			return domain.StepOSPackages
		}
		return domain.StepDependencies
	case "COPY", "ADD":
		if strings.HasPrefix(rest, ". ") {
			return domain.StepSource
		}
		return domain.StepDependencies
	case "EXPOSE", "CMD", "ENTRYPOINT":
		return domain.StepExpose
	}
	return domain.StepContext
}
