package domain

import (
	"path"
	"regexp"
	"strings"
)

const (
	DefaultBaseImage = "python:3.11-slim"
	DefaultManifest  = "requirements.txt"
	DefaultWorkDir   = "/app"
	DefaultSource    = "."
)

// Environment the image pins; recipes may not override these.
var reservedEnv = map[string]bool{
	PortEnv:                   true,
	"PYTHONUNBUFFERED":        true,
	"PYTHONDONTWRITEBYTECODE": true,
}

var (
	recipeName  = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
	packageName = regexp.MustCompile(`^[a-z0-9][a-z0-9+.-]*$`)
	envName     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	// Paths are written unquoted into Dockerfile instructions and start.sh.
	safePath = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)
)

// Recipe is the build and launch descriptor of one service image.
type Recipe struct {
	Name        string            `json:"name" yaml:"name"`
	BaseImage   string            `json:"base_image,omitempty" yaml:"base_image,omitempty"`
	Packages    []string          `json:"packages,omitempty" yaml:"packages,omitempty"`
	Manifest    string            `json:"manifest,omitempty" yaml:"manifest,omitempty"`
	Source      string            `json:"source,omitempty" yaml:"source,omitempty"`
	Ref         string            `json:"ref,omitempty" yaml:"ref,omitempty"`
	WorkDir     string            `json:"workdir,omitempty" yaml:"workdir,omitempty"`
	DefaultPort int               `json:"port,omitempty" yaml:"port,omitempty"`
	Entrypoint  Entrypoint        `json:"entrypoint" yaml:"entrypoint"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// WithDefaults fills unset fields and de-duplicates the package list.
func (r Recipe) WithDefaults() Recipe {
	if r.BaseImage == "" {
		r.BaseImage = DefaultBaseImage
	}
	if r.Manifest == "" {
		r.Manifest = DefaultManifest
	}
	if r.Source == "" {
		r.Source = DefaultSource
	}
	if r.WorkDir == "" {
		r.WorkDir = DefaultWorkDir
	}
	if r.DefaultPort == 0 {
		r.DefaultPort = DefaultPort
	}
	if r.Entrypoint.Kind == "" && r.Entrypoint.Target != "" {
		r.Entrypoint.Kind = KindASGI
		if strings.HasSuffix(r.Entrypoint.Target, ".py") {
			r.Entrypoint.Kind = KindScript
		}
	}
	r.Packages = dedupe(r.Packages)
	return r
}

// Validate reports the first invariant the recipe breaks.
func (r Recipe) Validate() error {
	if !recipeName.MatchString(r.Name) {
		return invalid("name %q must be lowercase letters, digits and dashes", r.Name)
	}
	if err := validateImageRef(r.BaseImage); err != nil {
		return err
	}
	for _, p := range r.Packages {
		if !packageName.MatchString(p) {
			return invalid("package name %q is not valid", p)
		}
	}
	if r.Manifest == "" || path.IsAbs(r.Manifest) || strings.HasPrefix(path.Clean(r.Manifest), "..") {
		return invalid("manifest %q must be a path inside the source tree", r.Manifest)
	}
	if !safePath.MatchString(r.Manifest) {
		return invalid("manifest %q may only contain letters, digits and ._/-", r.Manifest)
	}
	if !path.IsAbs(r.WorkDir) {
		return invalid("workdir %q must be absolute", r.WorkDir)
	}
	if !safePath.MatchString(r.WorkDir) {
		return invalid("workdir %q may only contain letters, digits and ._/-", r.WorkDir)
	}
	if !ValidPort(r.DefaultPort) {
		return invalid("port %d is out of range", r.DefaultPort)
	}
	if err := r.Entrypoint.Validate(); err != nil {
		return err
	}
	for k, v := range r.Env {
		if !envName.MatchString(k) {
			return invalid("env name %q is not valid", k)
		}
		if reservedEnv[k] {
			return invalid("env %s is fixed by the image", k)
		}
		if strings.ContainsAny(v, "\r\n") {
			return invalid("env %s must be a single line", k)
		}
	}
	return nil
}

// ImageTag is the tag a successful build is stored under.
func (r Recipe) ImageTag() string {
	return "lighthouse/" + r.Name + ":latest"
}

func validateImageRef(ref string) error {
	if ref == "" || strings.ContainsAny(ref, " \t\n") {
		return invalid("base image %q is not a valid reference", ref)
	}
	// Digests pin the image as well as tags do.
	if strings.Contains(ref, "@sha256:") {
		return nil
	}
	last := ref[strings.LastIndex(ref, "/")+1:]
	if _, tag, ok := strings.Cut(last, ":"); !ok || tag == "" {
		return invalid("base image %q must carry an explicit tag", ref)
	}
	return nil
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
