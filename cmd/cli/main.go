package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cochaviz/decant/arch"
	config "github.com/cochaviz/decant/config"
	"github.com/cochaviz/decant/internal/graph"
	"github.com/cochaviz/decant/internal/linkage"
	"github.com/cochaviz/decant/internal/logging"
	"github.com/cochaviz/decant/internal/manifest"
	"github.com/cochaviz/decant/internal/settings"
)

const defaultLogLevel = "info"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{level: &levelVar, logger: logging.NewCLI(os.Stderr, &levelVar), v: viper.New()}
	slog.SetDefault(c.logger)

	root := newRootCommand(c)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			c.logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		c.logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// cli carries state shared by every command. The logger is replaced once
// flags are parsed.
type cli struct {
	level  *slog.LevelVar
	logger *slog.Logger
	v      *viper.Viper
}

func (c *cli) options(command string) config.Options {
	return config.Options{
		Root:    c.v.GetString("workspace"),
		Tag:     c.v.GetString("tag"),
		Mode:    graph.Mode(c.v.GetString("artifacts")),
		Targets: c.v.GetStringSlice("target"),
		DistDir: c.v.GetString("dist-dir"),
		Logger:  c.logger.With("command", command),
	}
}

func newRootCommand(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "decant",
		Short:         "Plan, build and merge multi-platform releases",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := root.PersistentFlags()
	flags.String("log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	flags.String("log-format", "cli", "Log output format (cli, json)")
	flags.StringP("workspace", "w", config.DefaultRoot, "Workspace directory containing "+settings.FileName)
	flags.String("tag", "", "Announcement tag; inferred from package versions when empty")
	flags.String("dist-dir", "", "Override the dist directory")
	flags.String("artifacts", string(graph.ModeAll), "Artifacts to handle (local, global, host, all)")
	flags.StringSlice("target", nil, "Restrict to the given target triples; repeat or comma-separate")
	flags.Bool("json", false, "Output JSON")

	c.v.SetEnvPrefix("DECANT")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()
	for _, name := range []string{"log-level", "log-format", "workspace", "tag", "dist-dir", "artifacts", "target", "json"} {
		_ = c.v.BindPFlag(name, flags.Lookup(name))
	}

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(c.v.GetString("log-level"))
		if err != nil {
			return err
		}
		c.level.Set(level)

		mode, err := logging.ParseMode(c.v.GetString("log-format"))
		if err != nil {
			return err
		}
		c.logger = logging.New(mode, os.Stderr, c.level)
		slog.SetDefault(c.logger)

		if _, err := graph.ParseMode(c.v.GetString("artifacts")); err != nil {
			return err
		}
		return nil
	}

	root.AddCommand(
		newInitCommand(c),
		newTagCommand(c),
		newPlanCommand(c),
		newBuildCommand(c),
		newMergeCommand(c),
		newLinkageCommand(c),
	)
	return root
}

func newInitCommand(c *cli) *cobra.Command {
	var (
		name    string
		version string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter " + settings.FileName,
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := c.v.GetString("workspace")
			if strings.TrimSpace(name) == "" {
				abs, err := filepath.Abs(workspace)
				if err != nil {
					return fmt.Errorf("resolve workspace: %w", err)
				}
				name = filepath.Base(abs)
			}

			path := settings.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(settings.GenerateDefault(name, version)), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			c.logger.Info("wrote settings", "path", path, "package", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Package name; defaults to the workspace directory name")
	cmd.Flags().StringVar(&version, "version", "0.1.0", "Initial package version")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

func newTagCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "tag",
		Short: "Show what an announcement tag releases",
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := config.ResolveTag(c.options("tag"))
			if err != nil {
				return err
			}
			if c.v.GetBool("json") {
				names := make([]string, 0, len(info.Packages))
				for _, pkg := range info.Packages {
					names = append(names, pkg.Name)
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"tag":        info.Tag.Tag,
					"prerelease": info.Tag.Prerelease,
					"title":      info.Title,
					"packages":   names,
				})
			}
			renderTag(cmd.OutOrStdout(), info)
			return nil
		},
	}
}

func newPlanCommand(c *cli) *cobra.Command {
	var allocateHosting bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute the release and write the planned manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := c.options("plan")
			result, err := config.Plan(cmd.Context(), opts, allocateHosting)
			if err != nil {
				return err
			}
			if c.v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), result.Manifest)
			}
			renderPlan(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&allocateHosting, "allocate-hosting", false, "Assign a hosting release id to each release")
	return cmd
}

func newBuildCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Build and package the artifacts this machine is responsible for",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := c.options("build")
			opts.Logger.Info("starting build", "artifacts", opts.Mode, "targets", strings.Join(opts.Targets, ","))

			result, err := config.Build(cmd.Context(), opts)
			if result != nil {
				renderSteps(cmd.OutOrStdout(), result.Steps)
			}
			if err != nil {
				return err
			}
			if c.v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), result.Manifest)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.PartialPath)
			return nil
		},
	}
}

func newMergeCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "Merge partial manifests from every build machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := config.Merge(c.options("merge"))
			if err != nil {
				return err
			}
			if c.v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), result.Manifest)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "merged %d partial manifest(s) into %s\n", result.Merged, result.ManifestPath)
			return nil
		},
	}
}

func newLinkageCommand(c *cli) *cobra.Command {
	var (
		target       string
		manifestPath string
	)

	cmd := &cobra.Command{
		Use:   "linkage [binary...]",
		Short: "Report the dynamic libraries binaries depend on",
		Long:  "Classify the given binaries, or report the linkage recorded in the merged manifest when none are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := c.logger.With("command", "linkage")

			var triple arch.Triple
			if target != "" {
				parsed, err := arch.ParseTriple(target)
				if err != nil {
					return err
				}
				triple = parsed
			}

			path := manifestPath
			if path == "" && len(args) == 0 {
				distDir := c.v.GetString("dist-dir")
				if distDir == "" {
					s, err := settings.Load(c.v.GetString("workspace"))
					if err != nil {
						return err
					}
					distDir = filepath.Join(c.v.GetString("workspace"), s.Dist.Dir)
				}
				path = filepath.Join(distDir, manifest.CanonicalFileName)
			}

			entries, err := config.InspectLinkage(cmd.Context(), args, triple, path, logger)
			if err != nil {
				return err
			}
			if c.v.GetBool("json") {
				out := make(map[string]linkage.Linkage, len(entries))
				for _, entry := range entries {
					out[entry.Name] = entry.Linkage
				}
				return printJSON(cmd.OutOrStdout(), out)
			}
			for _, entry := range entries {
				linkage.Report(cmd.OutOrStdout(), entry.Name, entry.Linkage)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "for-target", "", "Target triple the binaries were built for; defaults to the host")
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Manifest to read linkage from")
	return cmd
}
