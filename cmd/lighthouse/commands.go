package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/melih/lighthouse/internal/bootstrap"
	"github.com/melih/lighthouse/internal/config"
	"github.com/melih/lighthouse/internal/core/domain"
	"github.com/melih/lighthouse/internal/core/ports"
	"github.com/melih/lighthouse/internal/logging"
	"github.com/melih/lighthouse/internal/recipe"
)

// exitError carries the launched process's exit code out of a command.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("process exited with code %d", e.code) }

type globals struct {
	configPath string
	logLevel   string
	logFormat  string
	cfg        config.Config
	logger     *slog.Logger
}

type recipeFlags struct {
	preset string
	file   string
	name   string
	source string
	ref    string
}

func (f *recipeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.preset, "preset", "api", "built-in variant ("+strings.Join(recipe.PresetNames(), ", ")+")")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "recipe YAML file (overrides --preset)")
	cmd.Flags().StringVar(&f.name, "name", "", "override the recipe name")
	cmd.Flags().StringVar(&f.source, "source", "", "override the source directory or git URL")
	cmd.Flags().StringVar(&f.ref, "ref", "", "git branch to build")
}

func (f *recipeFlags) load() (domain.Recipe, error) {
	var (
		r   domain.Recipe
		err error
	)
	if f.file != "" {
		r, err = recipe.Load(f.file)
	} else {
		r, err = recipe.Preset(f.preset)
	}
	if err != nil {
		return domain.Recipe{}, err
	}
	if f.name != "" {
		r.Name = f.name
	}
	if f.source != "" {
		r.Source = f.source
	}
	if f.ref != "" {
		r.Ref = f.ref
	}
	r = r.WithDefaults()
	return r, r.Validate()
}

func newRootCommand(levelVar *slog.LevelVar) *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "lighthouse",
		Short:         "Build and launch Python ASGI service images from a recipe",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "lighthouse.yaml", "config file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log verbosity (debug, info, warning, error)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "log format (text, json)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(g.configPath, os.LookupEnv)
		if err != nil {
			return err
		}
		if g.logLevel != "" {
			cfg.LogLevel = g.logLevel
		}
		if g.logFormat != "" {
			cfg.LogFormat = g.logFormat
		}
		level, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		mode, err := logging.ParseMode(cfg.LogFormat)
		if err != nil {
			return err
		}
		var leveler slog.Leveler = level
		if levelVar != nil {
			levelVar.Set(level)
			leveler = levelVar
		}
		g.cfg = cfg
		g.logger = logging.New(mode, cmd.ErrOrStderr(), leveler)
		return nil
	}

	root.AddCommand(
		newRenderCommand(),
		newBuildCommand(g),
		newRunCommand(g),
		newBuildsCommand(g),
		newPresetsCommand(),
	)
	return root
}

func newRenderCommand() *cobra.Command {
	var rf recipeFlags
	var only string
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the generated Dockerfile and launch script",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := rf.load()
			if err != nil {
				return err
			}
			art, err := recipe.Render(r)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch only {
			case "dockerfile":
				_, err = out.Write(art.Dockerfile)
			case "start":
				_, err = out.Write(art.StartScript)
			case "":
				fmt.Fprintf(out, "# %s\n%s\n# %s\n%s", recipe.DockerfileName, art.Dockerfile, recipe.StartScriptName, art.StartScript)
			default:
				err = fmt.Errorf("--only must be dockerfile or start")
			}
			return err
		},
	}
	rf.register(cmd)
	cmd.Flags().StringVar(&only, "only", "", "print only the dockerfile or the start script")
	return cmd
}

func newBuildCommand(g *globals) *cobra.Command {
	var rf recipeFlags
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the service image; exits non-zero if any step fails",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := rf.load()
			if err != nil {
				return err
			}
			rt, err := bootstrap.New(g.cfg, g.logger, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer rt.Close()

			b, err := rt.Pipeline.Build(cmd.Context(), r)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "build %s %s: %s\n", b.ID, b.State, b.Image)
			return nil
		},
	}
	rf.register(cmd)
	return cmd
}

func newRunCommand(g *globals) *cobra.Command {
	var (
		rf    recipeFlags
		port  int
		env   []string
		image string
		wait  bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Launch the built image; PORT in the environment overrides the default port",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := rf.load()
			if err != nil {
				return err
			}
			vars, err := parseEnv(env)
			if err != nil {
				return err
			}
			if v, ok := os.LookupEnv(domain.PortEnv); ok {
				if _, set := vars[domain.PortEnv]; !set {
					vars[domain.PortEnv] = v
				}
			}

			rt, err := bootstrap.New(g.cfg, g.logger, io.Discard)
			if err != nil {
				return err
			}
			defer rt.Close()

			var c domain.Container
			if image != "" {
				if port == 0 {
					if port, err = domain.ResolvePort(domain.MapLookup(vars), r.DefaultPort); err != nil {
						return err
					}
				}
				c, err = rt.Containers.StartContainer(cmd.Context(), launchRequest(image, r.Name, port, vars))
			} else {
				c, err = rt.Pipeline.Run(cmd.Context(), r, port, vars)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s listening on 0.0.0.0:%d\n", c.ID, c.Name, c.Port)

			if !wait {
				return nil
			}
			code, err := rt.Containers.Wait(cmd.Context(), c.ID)
			if err != nil {
				return err
			}
			if code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
	rf.register(cmd)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listening port (default: $PORT, then the recipe port)")
	cmd.Flags().StringArrayVarP(&env, "env", "e", nil, "KEY=VALUE passed to the service (repeatable)")
	cmd.Flags().StringVar(&image, "image", "", "run this image instead of the recipe's tag")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the service exits and return its exit code")
	return cmd
}

func newBuildsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "builds",
		Short: "List recorded builds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap.New(g.cfg, g.logger, io.Discard)
			if err != nil {
				return err
			}
			defer rt.Close()

			builds, err := rt.Pipeline.Builds(cmd.Context())
			if err != nil {
				return err
			}
			printBuilds(cmd.OutOrStdout(), builds)
			return nil
		},
	}
}

func newPresetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the built-in recipe variants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PRESET\tENTRYPOINT\tPORT")
			for _, name := range recipe.PresetNames() {
				r, err := recipe.Preset(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\n", name, r.Entrypoint, r.DefaultPort)
			}
			return tw.Flush()
		},
	}
}

func printBuilds(w io.Writer, builds []domain.Build) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRECIPE\tSTATE\tSTEP\tIMAGE\tSTARTED")
	for _, b := range builds {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", b.ID, b.Recipe, b.State, b.Step, b.Image, b.StartedAt.Format(time.RFC3339))
	}
	tw.Flush()
}

func parseEnv(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("env %q must be KEY=VALUE", p)
		}
		vars[k] = v
	}
	return vars, nil
}

func launchRequest(image, name string, port int, env map[string]string) ports.LaunchRequest {
	return ports.LaunchRequest{Image: image, Name: name, Port: port, Env: env}
}
