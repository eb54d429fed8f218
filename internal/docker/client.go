package docker

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/distribution/reference"
	"github.com/moby/moby/api/types/image"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ryanmoran/dockwire/internal"
	"github.com/ryanmoran/dockwire/internal/engine"
)

// RegistryAuthHeader carries the opaque, base64 encoded registry credentials.
const RegistryAuthHeader = "X-Registry-Auth"

// emptyRegistryAuth is base64("{}"), sent when no credentials are configured.
const emptyRegistryAuth = "e30="

type Image struct {
	Name string
	ID   string
}

type PingResult struct {
	APIVersion   string
	OSType       string
	Experimental bool
}

type Client struct {
	engine       Engine
	pushRetries  int
	registryAuth string
	pullLimit    int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithPushRetries sets how many times a push that failed with HTTP 500 is retried.
func WithPushRetries(retries int) ClientOption {
	return func(c *Client) {
		c.pushRetries = retries
	}
}

// WithRegistryAuth sets the X-Registry-Auth value sent on pulls and pushes.
func WithRegistryAuth(auth string) ClientOption {
	return func(c *Client) {
		c.registryAuth = auth
	}
}

// NewClient creates a Client that runs operations through the provided engine.
func NewClient(e Engine, opts ...ClientOption) Client {
	c := Client{
		engine:    e,
		pullLimit: internal.DefaultPullConcurrency,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// NewDefaultClient builds the engine client described by config and wraps it.
func NewDefaultClient(config internal.Config, logger logrus.FieldLogger, registerer prometheus.Registerer) (Client, error) {
	core, err := engine.NewClient(engine.Options{
		Host:       config.Host,
		APIVersion: config.APIVersion,
		TLS: engine.TLSOptions{
			CertPath:           config.CertPath,
			Enabled:            config.TLSVerify,
			InsecureSkipVerify: config.TLSInsecure,
		},
		MaxConnections: config.MaxConnections,
		Logger:         logger,
		Registerer:     registerer,
	})
	if err != nil {
		return Client{}, fmt.Errorf("failed to create daemon client for %q: %w\nCheck DOCKER_HOST and the TLS certificate directory", config.Host, err)
	}

	return NewClient(core,
		WithPushRetries(config.PushRetries),
		WithRegistryAuth(config.RegistryAuth),
	), nil
}

// Close releases the pooled daemon connection.
func (c Client) Close() error {
	return c.engine.Shutdown()
}

// Ping checks that the daemon answers and reports its API version.
func (c Client) Ping(ctx context.Context) (PingResult, error) {
	var result PingResult
	err := c.engine.Execute(ctx, engine.NewRequest(http.MethodGet, "/_ping", engine.NoBody(), nil, http.StatusOK), func(resp *http.Response) error {
		result = PingResult{
			APIVersion:   resp.Header.Get("API-Version"),
			OSType:       resp.Header.Get("OSType"),
			Experimental: resp.Header.Get("Docker-Experimental") == "true",
		}
		return nil
	})
	if err != nil {
		return PingResult{}, fmt.Errorf("failed to ping daemon: %w\nMake sure the daemon is running (try 'docker ps')", err)
	}

	return result, nil
}

// ListImages lists the images known to the daemon. Intermediate images are
// included when all is set.
func (c Client) ListImages(ctx context.Context, all bool) ([]image.Summary, error) {
	target := "/images/json"
	if all {
		target += "?all=1"
	}

	images, err := engine.Get(ctx, c.engine, target, engine.JSON[[]image.Summary](), http.StatusOK)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	return images, nil
}

// BuildImage builds a Docker image from a Dockerfile and tags it with the specified image name.
// The Dockerfile is the whole build context: it is packed into a tar archive in a
// temporary file, which is streamed to the daemon, and the build output is
// printed to w. Returns an error if the Dockerfile cannot be read, the archive
// cannot be written, the daemon rejects the build, or the build itself fails.
func (c Client) BuildImage(ctx context.Context, dockerfilePath string, imageName internal.ImageName, w internal.Writer) (Image, error) {
	dockerfile, err := os.ReadFile(dockerfilePath)
	if err != nil {
		return Image{}, fmt.Errorf("failed to read Dockerfile at %q: %w\nCheck that the file exists and is readable", dockerfilePath, err)
	}

	contextPath, err := writeBuildContext(dockerfile)
	if err != nil {
		return Image{}, err
	}
	defer os.Remove(contextPath)

	query := url.Values{}
	query.Set("t", string(imageName))
	query.Set("dockerfile", "Dockerfile")
	query.Set("rm", "1")

	built := Image{Name: string(imageName)}
	_, err = engine.Post(ctx, c.engine, "/build?"+query.Encode(), engine.FileBody(contextPath),
		http.Header{"Content-Type": {"application/x-tar"}},
		engine.Stream(printProgress(w, func(id string) { built.ID = id }), w.GetWriter()),
		http.StatusOK)
	if err != nil {
		var streamErr *StreamError
		if errors.As(err, &streamErr) {
			return Image{}, fmt.Errorf("docker build failed: %w\nCheck your Dockerfile syntax and base image availability", err)
		}
		return Image{}, fmt.Errorf("failed to build image %q: %w\nCheck Docker daemon logs for details", imageName, err)
	}

	return built, nil
}

func writeBuildContext(dockerfile []byte) (string, error) {
	f, err := os.CreateTemp("", "dockwire-build-*.tar")
	if err != nil {
		return "", fmt.Errorf("failed to create build context file: %w\nCheck that the temporary directory is writable", err)
	}

	tw := tar.NewWriter(f)
	err = tw.WriteHeader(&tar.Header{
		Name: "Dockerfile",
		Mode: 0644,
		Size: int64(len(dockerfile)),
	})
	if err == nil {
		_, err = tw.Write(dockerfile)
	}
	if err == nil {
		err = tw.Close()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write Dockerfile to tar archive %q: %w\nThis is a system error with tar archive creation", filepath.Base(f.Name()), err)
	}

	return f.Name(), nil
}

// PullImage pulls ref from its registry, printing progress to w. A reference
// without a tag pulls latest.
func (c Client) PullImage(ctx context.Context, ref internal.ImageName, w internal.Writer) (Image, error) {
	named, tag, err := parseTagged(ref)
	if err != nil {
		return Image{}, err
	}

	query := url.Values{}
	query.Set("fromImage", reference.FamiliarName(named))
	query.Set("tag", tag)

	_, err = engine.Post(ctx, c.engine, "/images/create?"+query.Encode(), engine.NoBody(), c.authHeader(),
		engine.Stream(printProgress(w, nil), w.GetWriter()),
		http.StatusOK)
	if err != nil {
		return Image{}, fmt.Errorf("failed to pull image %q: %w\nCheck the image name and your registry credentials", ref, err)
	}

	return Image{Name: reference.FamiliarString(named)}, nil
}

// PullImages pulls refs concurrently over the pooled connection. The first
// failure cancels the remaining pulls.
func (c Client) PullImages(ctx context.Context, refs []internal.ImageName, w internal.Writer) ([]Image, error) {
	images := make([]Image, len(refs))
	sw := internal.NewSyncWriter(w)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.pullLimit)
	for i, ref := range refs {
		g.Go(func() error {
			pulled, err := c.PullImage(gctx, ref, sw)
			if err != nil {
				return err
			}
			images[i] = pulled
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return images, nil
}

// TagImage adds target as a name for the existing image source.
func (c Client) TagImage(ctx context.Context, source, target internal.ImageName) error {
	named, tag, err := parseTagged(target)
	if err != nil {
		return err
	}

	query := url.Values{}
	query.Set("repo", reference.FamiliarName(named))
	query.Set("tag", tag)

	_, err = engine.Post(ctx, c.engine, "/images/"+string(source)+"/tag?"+query.Encode(), engine.NoBody(), nil,
		engine.StatusOnly(), http.StatusCreated)
	if err != nil {
		return fmt.Errorf("failed to tag image %q as %q: %w\nEnsure the source image exists locally", source, target, err)
	}

	return nil
}

// RemoveImage removes name from the daemon. For an image with several tags only
// the given tag is removed unless force is set.
func (c Client) RemoveImage(ctx context.Context, name internal.ImageName, force bool) ([]image.DeleteResponse, error) {
	target := "/images/" + string(name)
	if force {
		target += "?force=1"
	}

	deleted, err := engine.Delete(ctx, c.engine, target, engine.JSON[[]image.DeleteResponse](), http.StatusOK)
	if err != nil {
		return nil, fmt.Errorf("failed to remove image %q: %w\nThe image may be in use by a container", name, err)
	}

	return deleted, nil
}

// PushImage pushes name to its registry, printing progress to w. When registry
// is not empty the image is pushed to that registry instead: a temporary tag
// registry/path:tag is created for the push and removed afterwards, whether the
// push succeeded or not. Pushes failing with HTTP 500 are retried up to the
// configured number of times.
func (c Client) PushImage(ctx context.Context, name internal.ImageName, registry string, w internal.Writer) error {
	named, tag, err := parseTagged(name)
	if err != nil {
		return err
	}

	target := reference.FamiliarName(named)
	if registry != "" {
		target = registry + "/" + reference.Path(named)
		temporary := internal.ImageName(target + ":" + tag)

		if err := c.TagImage(ctx, name, temporary); err != nil {
			return err
		}
		defer func() {
			if _, err := c.RemoveImage(context.WithoutCancel(ctx), temporary, false); err != nil {
				w.Warningf("failed to remove temporary tag %s: %v", temporary, err)
			}
		}()
	}

	query := url.Values{}
	query.Set("tag", tag)

	requester := c.engine.WithRetry(engine.PushRetryPolicy(c.pushRetries))
	_, err = engine.Post(ctx, requester, "/images/"+target+"/push?"+query.Encode(), engine.NoBody(), c.authHeader(),
		engine.Stream(printProgress(w, nil), w.GetWriter()),
		http.StatusOK)
	if err != nil {
		return fmt.Errorf("failed to push image %q to %q: %w\nCheck your registry credentials and network access", name, target, err)
	}

	return nil
}

func (c Client) authHeader() http.Header {
	auth := c.registryAuth
	if auth == "" {
		auth = emptyRegistryAuth
	}
	return http.Header{RegistryAuthHeader: {auth}}
}

// parseTagged normalizes ref and returns it with its tag, defaulting to latest.
func parseTagged(ref internal.ImageName) (reference.Named, string, error) {
	named, err := reference.ParseNormalizedNamed(string(ref))
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse image reference %q: %w\nUse the form [registry/]name[:tag]", ref, err)
	}

	named = reference.TagNameOnly(named)
	tagged, ok := named.(reference.Tagged)
	if !ok {
		return nil, "", fmt.Errorf("failed to parse image reference %q: digest references are not supported here", ref)
	}

	return named, tagged.Tag(), nil
}
