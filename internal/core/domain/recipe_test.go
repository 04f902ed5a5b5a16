package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecipe() Recipe {
	return Recipe{
		Name:       "speakcheck",
		Packages:   []string{"ffmpeg", "tesseract-ocr", "ffmpeg", " "},
		Entrypoint: Entrypoint{Kind: KindASGI, Target: "api:app"},
	}.WithDefaults()
}

func TestRecipe_WithDefaults(t *testing.T) {
	r := validRecipe()

	assert.Equal(t, DefaultBaseImage, r.BaseImage)
	assert.Equal(t, DefaultManifest, r.Manifest)
	assert.Equal(t, DefaultWorkDir, r.WorkDir)
	assert.Equal(t, 8000, r.DefaultPort)
	assert.Equal(t, []string{"ffmpeg", "tesseract-ocr"}, r.Packages)
	require.NoError(t, r.Validate())
}

func TestRecipe_WithDefaultsInfersEntrypointKind(t *testing.T) {
	r := Recipe{Name: "x", Entrypoint: Entrypoint{Target: "main.py"}}.WithDefaults()
	assert.Equal(t, KindScript, r.Entrypoint.Kind)

	r = Recipe{Name: "x", Entrypoint: Entrypoint{Target: "main:app"}}.WithDefaults()
	assert.Equal(t, KindASGI, r.Entrypoint.Kind)
}

func TestRecipe_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Recipe)
	}{
		{"bad name", func(r *Recipe) { r.Name = "Speak_Check" }},
		{"untagged base image", func(r *Recipe) { r.BaseImage = "python" }},
		{"registry port is not a tag", func(r *Recipe) { r.BaseImage = "localhost:5000/python" }},
		{"bad package", func(r *Recipe) { r.Packages = []string{"rm -rf /"} }},
		{"manifest escapes source", func(r *Recipe) { r.Manifest = "../requirements.txt" }},
		{"absolute manifest", func(r *Recipe) { r.Manifest = "/requirements.txt" }},
		{"manifest with shell metacharacters", func(r *Recipe) { r.Manifest = "reqs.txt;echo pwned" }},
		{"manifest with space", func(r *Recipe) { r.Manifest = "my reqs.txt" }},
		{"relative workdir", func(r *Recipe) { r.WorkDir = "app" }},
		{"workdir with space", func(r *Recipe) { r.WorkDir = "/srv/my app" }},
		{"workdir with subshell", func(r *Recipe) { r.WorkDir = "/srv/$(id)" }},
		{"port out of range", func(r *Recipe) { r.DefaultPort = 70000 }},
		{"asgi without object", func(r *Recipe) { r.Entrypoint.Target = "api" }},
		{"asgi bad module", func(r *Recipe) { r.Entrypoint.Target = "my-api:app" }},
		{"script without py", func(r *Recipe) { r.Entrypoint = Entrypoint{Kind: KindScript, Target: "main"} }},
		{"script with space", func(r *Recipe) { r.Entrypoint = Entrypoint{Kind: KindScript, Target: "my app.py"} }},
		{"script with quote", func(r *Recipe) { r.Entrypoint = Entrypoint{Kind: KindScript, Target: `a"b.py`} }},
		{"unknown kind", func(r *Recipe) { r.Entrypoint.Kind = "wsgi" }},
		{"reserved env", func(r *Recipe) { r.Env = map[string]string{"PORT": "1"} }},
		{"bad env name", func(r *Recipe) { r.Env = map[string]string{"1X": "1"} }},
		{"multiline env value", func(r *Recipe) { r.Env = map[string]string{"KEY": "a\nRUN id"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecipe()
			tt.mutate(&r)
			err := r.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRecipe)
		})
	}
}

func TestRecipe_ValidateAcceptsDigestsAndDottedModules(t *testing.T) {
	r := validRecipe()
	r.BaseImage = "registry.example.com:5000/python@sha256:abc"
	r.Entrypoint.Target = "service.api:app"
	r.Env = map[string]string{"POSTGRES_HOST": "db", "DB_PASSWORD": `pa$word "quoted"`}
	r.Manifest = "deps/requirements-prod.txt"
	r.WorkDir = "/srv/speak_check.v2"
	assert.NoError(t, r.Validate())
}

func TestRecipe_ImageTag(t *testing.T) {
	assert.Equal(t, "lighthouse/speakcheck:latest", validRecipe().ImageTag())
}

func TestEntrypoint_Argv(t *testing.T) {
	asgi := Entrypoint{Kind: KindASGI, Target: "main:app"}
	assert.Equal(t, []string{"uvicorn", "main:app", "--host", "0.0.0.0", "--port", "9000"}, asgi.Argv(9000))

	script := Entrypoint{Kind: KindScript, Target: "main.py"}
	assert.Equal(t, []string{"python", "main.py"}, script.Argv(9000))
}
