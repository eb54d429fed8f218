package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ryanmoran/dockwire/internal"
	"github.com/ryanmoran/dockwire/internal/docker"
	"github.com/ryanmoran/dockwire/internal/engine"
)

const usage = `usage: dockwire [flags] <command> [args]

commands:
  ping                       check the daemon and print its API version
  images                     list local images
  build <dockerfile> <name>  build an image from a single Dockerfile
  pull <ref>...              pull one or more images
  push <name> [registry]     push an image, optionally to another registry
  run <image> [cmd...]       run a container and stream its output
  logs [-f] <container>      print the output of a container`

// logDrain bounds how long run waits for the tail of a container's output
// once the container has exited.
const logDrain = 2 * time.Second

// exitStatus is returned by the run command when the container exited non-zero.
type exitStatus int64

func (s exitStatus) Error() string {
	return fmt.Sprintf("container exited with status %d", int64(s))
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("panic occurred: %v", r)
			os.Exit(1)
		}
	}()

	if err := run(os.Args, os.Environ(), internal.NewStandardWriter()); err != nil {
		var status exitStatus
		if errors.As(err, &status) {
			os.Exit(int(status))
		}
		log.Fatal(err)
	}
}

func run(args, env []string, w internal.Writer) error {
	config, err := internal.ParseConfig(args[1:], env)
	if err != nil {
		return err
	}
	if len(config.Args) == 0 {
		return fmt.Errorf("no command given\n%s", usage)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if config.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	cleanupMgr := internal.NewCleanupManager(logger)
	defer cleanupMgr.Execute()

	// Create context with cancellation so a signal stops whatever is running
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	registry := prometheus.NewRegistry()
	client, err := docker.NewDefaultClient(config, logger, registry)
	if err != nil {
		return err
	}
	cleanupMgr.Add("docker-client", client.Close)
	if config.Debug {
		cleanupMgr.Add("metrics", func() error {
			return logMetrics(logger, registry)
		})
	}

	logger.WithField("config", config.String()).Debug("starting")

	command, rest := config.Args[0], []string(config.Args[1:])
	switch command {
	case "ping":
		return ping(ctx, client, w)
	case "images":
		return images(ctx, client, w)
	case "build":
		if len(rest) != 2 {
			return fmt.Errorf("build takes <dockerfile> <name>\n%s", usage)
		}
		image, err := client.BuildImage(ctx, rest[0], internal.ImageName(rest[1]), w)
		if err != nil {
			return fmt.Errorf("failed to build docker image %q from %q: %w", rest[1], rest[0], err)
		}
		if image.ID != "" {
			w.Printf("Built %s (%s)\n", image.Name, image.ID)
		}
		return nil
	case "pull":
		if len(rest) == 0 {
			return fmt.Errorf("pull takes at least one <ref>\n%s", usage)
		}
		refs := make([]internal.ImageName, len(rest))
		for i, ref := range rest {
			refs[i] = internal.ImageName(ref)
		}
		pulled, err := client.PullImages(ctx, refs, w)
		if err != nil {
			return err
		}
		for _, image := range pulled {
			w.Printf("Pulled %s\n", image.Name)
		}
		return nil
	case "push":
		if len(rest) < 1 || len(rest) > 2 {
			return fmt.Errorf("push takes <name> [registry]\n%s", usage)
		}
		registryHost := ""
		if len(rest) == 2 {
			registryHost = rest[1]
		}
		return client.PushImage(ctx, internal.ImageName(rest[0]), registryHost, w)
	case "run":
		if len(rest) == 0 {
			return fmt.Errorf("run takes <image> [cmd...]\n%s", usage)
		}
		return runContainer(ctx, client, config, cleanupMgr, rest[0], rest[1:], w)
	case "logs":
		return logs(ctx, client, rest, w)
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}
}

func ping(ctx context.Context, client docker.Client, w internal.Writer) error {
	result, err := client.Ping(ctx)
	if err != nil {
		return err
	}

	w.Printf("API version: %s\n", result.APIVersion)
	if result.OSType != "" {
		w.Printf("OS type: %s\n", result.OSType)
	}
	if result.Experimental {
		w.Println("Experimental: true")
	}
	return nil
}

func images(ctx context.Context, client docker.Client, w internal.Writer) error {
	summaries, err := client.ListImages(ctx, false)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w.GetWriter(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "REPOSITORY:TAG\tIMAGE ID\tCREATED\tSIZE")
	for _, summary := range summaries {
		tags := summary.RepoTags
		if len(tags) == 0 {
			tags = []string{"<none>:<none>"}
		}
		id := strings.TrimPrefix(summary.ID, "sha256:")
		if len(id) > 12 {
			id = id[:12]
		}
		created := units.HumanDuration(time.Since(time.Unix(summary.Created, 0))) + " ago"
		for _, tag := range tags {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", tag, id, created, units.HumanSize(float64(summary.Size)))
		}
	}
	return tw.Flush()
}

func runContainer(ctx context.Context, client docker.Client, config internal.Config, cleanupMgr *internal.CleanupManager, image string, args []string, w internal.Writer) error {
	session := internal.GenerateSession()
	w = internal.NewSyncWriter(w)

	container, err := client.CreateContainer(
		ctx,
		session.ContainerName(),
		docker.Image{Name: image},
		internal.Command(args),
		config.Env,
		config.Volumes,
		config.Network,
		config.StopTimeout,
	)
	if err != nil {
		return err
	}
	cleanupMgr.Add("container", func() error {
		return container.ForceRemove(context.WithoutCancel(ctx))
	})
	for _, warning := range container.Warnings {
		w.Warning(warning)
	}

	err = container.Start(ctx)
	if err != nil {
		return err
	}

	handle, err := container.FollowLogs(printLine(w))
	if err != nil {
		return err
	}
	cleanupMgr.Add("log-follow", func() error {
		handle.Stop()
		return nil
	})

	status, err := container.Wait(ctx, w)
	if err != nil {
		return err
	}

	select {
	case <-handle.Done():
	case <-time.After(logDrain):
		handle.Stop()
	}
	if err := handle.Wait(); err != nil {
		w.Warningf("log follow ended early: %v", err)
	}

	if status != 0 {
		return exitStatus(status)
	}
	return nil
}

func logs(ctx context.Context, client docker.Client, args []string, w internal.Writer) error {
	var follow bool
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	fs.BoolVar(&follow, "f", false, "follow the output")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("failed to parse logs arguments: %w\n%s", err, usage)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("logs takes [-f] <container>\n%s", usage)
	}

	container := client.ContainerByID(fs.Arg(0))
	w = internal.NewSyncWriter(w)
	if !follow {
		return container.Logs(ctx, printLine(w))
	}

	handle, err := container.FollowLogs(printLine(w))
	if err != nil {
		return err
	}

	select {
	case <-handle.Done():
	case <-ctx.Done():
		handle.Stop()
	}
	return handle.Wait()
}

func printLine(w internal.Writer) engine.LineFunc {
	return func(line engine.LogLine) engine.Outcome {
		w.Println(line.Text)
		return engine.Continue()
	}
}

func logMetrics(logger logrus.FieldLogger, registry *prometheus.Registry) error {
	families, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	for _, family := range families {
		for _, metric := range family.GetMetric() {
			fields := logrus.Fields{"metric": family.GetName()}
			for _, label := range metric.GetLabel() {
				fields[label.GetName()] = label.GetValue()
			}
			switch {
			case metric.GetCounter() != nil:
				fields["value"] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				fields["value"] = metric.GetGauge().GetValue()
			}
			logger.WithFields(fields).Debug("metric")
		}
	}
	return nil
}
