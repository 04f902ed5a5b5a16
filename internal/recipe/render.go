package recipe

import (
	"bytes"
	_ "embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"text/template"

	"github.com/melih/lighthouse/internal/core/domain"
)

// Names of the generated files inside the build context.
const (
	DockerfileName  = "Dockerfile.lighthouse"
	StartScriptName = "lighthouse-start.sh"
)

//go:embed templates/Dockerfile.tmpl
var dockerfileTemplate string

//go:embed templates/start.sh.tmpl
var startScriptTemplate string

var (
	funcs = template.FuncMap{"join": strings.Join}

	dockerfileTmpl  = template.Must(template.New("Dockerfile").Funcs(funcs).Parse(dockerfileTemplate))
	startScriptTmpl = template.Must(template.New("start.sh").Parse(startScriptTemplate))
)

// Artifacts are the generated files added to the build context.
type Artifacts struct {
	Dockerfile  []byte
	StartScript []byte
}

type envVar struct {
	Key   string
	Value string
}

// envEscaper escapes the characters the Dockerfile lexer interprets inside
// double quotes.
var envEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`)

func quoteEnv(v string) string {
	return `"` + envEscaper.Replace(v) + `"`
}

type dockerfileData struct {
	domain.Recipe
	Env         []envVar
	StartScript string
}

type startScriptData struct {
	DefaultPort int
	Kind        domain.EntrypointKind
	Target      string
}

// Render produces the Dockerfile and launch script for r.
// r is defaulted and validated first.
func Render(r domain.Recipe) (Artifacts, error) {
	r = r.WithDefaults()
	if err := r.Validate(); err != nil {
		return Artifacts{}, err
	}

	keys := make([]string, 0, len(r.Env))
	for k := range r.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]envVar, 0, len(keys))
	for _, k := range keys {
		env = append(env, envVar{Key: k, Value: quoteEnv(r.Env[k])})
	}

	var df bytes.Buffer
	if err := dockerfileTmpl.Execute(&df, dockerfileData{
		Recipe:      r,
		Env:         env,
		StartScript: path.Join(r.WorkDir, StartScriptName),
	}); err != nil {
		return Artifacts{}, fmt.Errorf("render Dockerfile: %w", err)
	}

	var sh bytes.Buffer
	if err := startScriptTmpl.Execute(&sh, startScriptData{
		DefaultPort: r.DefaultPort,
		Kind:        r.Entrypoint.Kind,
		Target:      r.Entrypoint.Target,
	}); err != nil {
		return Artifacts{}, fmt.Errorf("render start script: %w", err)
	}

	return Artifacts{Dockerfile: df.Bytes(), StartScript: sh.Bytes()}, nil
}
