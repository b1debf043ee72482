package aero

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/opnlabs/aero/pkg/config"
	"github.com/opnlabs/aero/pkg/models"
	"github.com/opnlabs/aero/pkg/pipeline"
	"github.com/opnlabs/aero/pkg/registry"
	"github.com/opnlabs/aero/pkg/runner"
	"github.com/opnlabs/aero/pkg/scheduler"
	"github.com/opnlabs/aero/pkg/utils"
)

var (
	pipelineFilePath  string
	settingsPath      string
	concurrency       int
	failurePolicy     string
	envVars           []string
	username          string
	password          string
	mountDockerSocket bool

	exitCode int
)

var rootCmd = &cobra.Command{
	Use:   "aero",
	Short: "Aero builds, tests and publishes components in containers",
	Long: `Aero runs a pipeline defined in a file ( default aero.yml ) as a graph of
steps inside docker containers. Independent steps run concurrently; a step
starts only after every step it needs has succeeded.`,

	Run: func(cmd *cobra.Command, args []string) {
		exitCode = run()
	},
}

func init() {
	rootCmd.Flags().StringVarP(&pipelineFilePath, "pipeline-file-path", "f", "aero.yml", "Path to the pipeline file.")
	rootCmd.Flags().StringVarP(&settingsPath, "settings", "s", "", "Path to a settings file.")
	rootCmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "Maximum number of steps running at once. 0 uses the configured default.")
	rootCmd.Flags().StringVar(&failurePolicy, "failure-policy", "", "Failure policy: fail-fast or continue.")
	rootCmd.Flags().BoolVarP(&mountDockerSocket, "mount-docker-socket", "m", false, "Mount the docker socket into step containers.")
	rootCmd.Flags().StringVarP(&username, "registry-username", "u", "", "Username for the container registry")
	rootCmd.Flags().StringVarP(&password, "registry-password", "p", "", "Password / Token for the container registry")

	rootCmd.Flags().StringArrayVarP(&envVars, "environment-variable", "e", make([]string, 0), "Environment variables. KEY=VALUE")

	rootCmd.AddCommand(versionCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
	os.Exit(exitCode)
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := config.Load(settingsPath)
	if err != nil {
		log.Fatal(err)
	}
	if concurrency > 0 {
		settings.Concurrency = concurrency
	}
	if failurePolicy != "" {
		settings.FailurePolicy = failurePolicy
	}
	if username != "" {
		settings.RegistryUsername = username
		settings.RegistryPassword = password
	}
	if mountDockerSocket {
		settings.MountDockerSocket = true
	}

	globalEnv := make([]models.Variable, 0, len(envVars))
	for _, v := range envVars {
		variables := strings.SplitN(v, "=", 2)
		if len(variables) != 2 {
			log.Fatalf("variables should be defined as KEY=VALUE: %s", v)
		}
		globalEnv = append(globalEnv, models.Variable{variables[0]: variables[1]})
	}

	if err := registry.Register("file", fileBuilder(pipelineFilePath, globalEnv)); err != nil {
		log.Fatal(err)
	}
	builder, ok := registry.Lookup("file")
	if !ok {
		log.Fatal("no pipeline builder registered")
	}

	graph, err := builder.Build(ctx)
	if err != nil {
		log.Fatalf("invalid pipeline: %v", err)
	}

	policy, err := scheduler.ParsePolicy(settings.FailurePolicy)
	if err != nil {
		log.Fatal(err)
	}

	session, err := runner.Open(ctx, runner.Options{
		BuildDir:          settings.BuildDir,
		ArtifactsDir:      settings.ArtifactsDir,
		ShowImagePull:     settings.ShowImagePull,
		MountDockerSocket: settings.MountDockerSocket,
		Username:          settings.RegistryUsername,
		Password:          settings.RegistryPassword,
		StopGrace:         settings.StopGrace.Std(),
	})
	if err != nil {
		if errors.Is(err, runner.ErrBackendUnavailable) {
			log.Fatal("docker daemon is not reachable, is it running?", "err", err)
		}
		log.Fatal(err)
	}
	defer session.Close()

	sched := scheduler.New(session, scheduler.Options{
		Concurrency: settings.Concurrency,
		Policy:      policy,
		Listener:    newLogListener(),
	})

	result, err := sched.Run(ctx, graph)
	if err != nil {
		log.Error("scheduler fault", "err", err)
		return pipeline.ExitFailed
	}

	logSummary(result)
	return result.ExitCode()
}

// fileBuilder loads a YAML pipeline definition and wires per-step output
// writers before building the graph.
func fileBuilder(path string, globalEnv []models.Variable) registry.Builder {
	return registry.BuilderFunc(func(ctx context.Context) (*pipeline.Graph, error) {
		f, err := models.Load(path)
		if err != nil {
			return nil, err
		}
		steps, err := f.Compile(globalEnv)
		if err != nil {
			return nil, err
		}
		for i := range steps {
			steps[i].Action.Stdout = utils.NewColorLogger(steps[i].Name, os.Stdout, true)
			steps[i].Action.Stderr = utils.NewColorLogger(steps[i].Name, os.Stderr, false)
		}
		return pipeline.Build(steps)
	})
}

func newLogListener() scheduler.Listener {
	logger := log.New(os.Stderr)
	return scheduler.ListenerFunc(func(e scheduler.Event) {
		switch e.Type {
		case scheduler.EventStepStarted:
			logger.Info("step started", "step", e.Step)
		case scheduler.EventStepSucceeded:
			logger.Info("step succeeded", "step", e.Step, "duration", e.Duration, "attempts", e.Attempt)
		case scheduler.EventStepFailed:
			logger.Error("step failed", "step", e.Step, "err", e.Err, "attempts", e.Attempt)
		case scheduler.EventStepSkipped:
			logger.Warn("step skipped", "step", e.Step, "reason", e.Err)
		case scheduler.EventStepRetrying:
			logger.Warn("step retrying", "step", e.Step, "attempt", e.Attempt, "err", e.Err)
		}
	})
}

func logSummary(r *pipeline.Result) {
	logger := log.New(os.Stderr)
	logger.Info("pipeline finished",
		"status", r.Status,
		"succeeded", r.Succeeded,
		"failed", r.Failed,
		"skipped", r.Skipped,
		"duration", r.Duration,
	)
	if r.FirstFailure != nil {
		logger.Error("first failure", "step", r.FirstFailure.Step, "err", r.FirstFailure.Err)
	}
	if r.Cancelled {
		logger.Warn("pipeline was cancelled")
	}
}
