package internal

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/moby/moby/client"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultMaxConnections bounds the pooled daemon connection.
	DefaultMaxConnections = 100

	// DefaultStopTimeout is the timeout in seconds for gracefully stopping a container
	// before the daemon kills it.
	DefaultStopTimeout = 10

	// DefaultPullConcurrency caps how many images are pulled at once.
	DefaultPullConcurrency = 4

	// EnvConfigFile names the YAML configuration file when --config is not given.
	EnvConfigFile = "DOCKWIRE_CONFIG"

	// EnvRegistryAuth carries the opaque X-Registry-Auth value for pulls and pushes.
	EnvRegistryAuth = "DOCKWIRE_REGISTRY_AUTH"
)

type Config struct {
	Host           string
	APIVersion     string
	CertPath       string
	TLSVerify      bool
	TLSInsecure    bool
	MaxConnections int
	PushRetries    int
	RegistryAuth   string
	Debug          bool
	StopTimeout    int

	Args    Command
	Env     Environment
	Volumes []string
	Network string
}

// fileConfig is the shape of the optional YAML configuration file.
type fileConfig struct {
	Host           string `yaml:"host"`
	APIVersion     string `yaml:"api_version"`
	CertPath       string `yaml:"cert_path"`
	TLSVerify      *bool  `yaml:"tls_verify"`
	TLSInsecure    *bool  `yaml:"tls_insecure"`
	MaxConnections int    `yaml:"max_connections"`
	PushRetries    int    `yaml:"push_retries"`
	StopTimeout    int    `yaml:"stop_timeout"`
}

type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// ParseConfig parses command-line arguments and environment variables into the
// configuration for one invocation. Settings are resolved from, in increasing
// precedence, built-in defaults, the YAML file named by --config or
// DOCKWIRE_CONFIG, the DOCKER_* environment variables and flags. Arguments after
// the flags are returned in Args, starting with the command name.
func ParseConfig(args []string, environment []string) (Config, error) {
	lookup := make(map[string]string)
	for _, variable := range environment {
		key, value, ok := strings.Cut(variable, "=")
		if ok {
			lookup[key] = value
		}
	}

	var (
		host           string
		apiVersion     string
		certPath       string
		tlsVerify      bool
		tlsInsecure    bool
		maxConnections int
		pushRetries    int
		stopTimeout    int
		configPath     string
		debug          bool
		env            stringSlice
		volumes        stringSlice
		network        string
	)

	fs := flag.NewFlagSet("dockwire", flag.ContinueOnError)
	fs.StringVar(&host, "host", "", "daemon socket to connect to")
	fs.StringVar(&apiVersion, "api-version", "", "daemon API version")
	fs.StringVar(&certPath, "tlscacert-dir", "", "directory holding ca.pem, cert.pem and key.pem")
	fs.BoolVar(&tlsVerify, "tlsverify", false, "use TLS and verify the daemon certificate")
	fs.BoolVar(&tlsInsecure, "tls-insecure", false, "use TLS without verifying the daemon certificate")
	fs.IntVar(&maxConnections, "max-connections", 0, "maximum concurrent daemon connections")
	fs.IntVar(&pushRetries, "push-retries", 0, "retries for a push that fails with a server error")
	fs.IntVar(&stopTimeout, "stop-timeout", 0, "seconds to wait for a container to stop")
	fs.StringVar(&configPath, "config", "", "YAML configuration file")
	fs.BoolVar(&debug, "debug", false, "log every daemon request")
	fs.Var(&env, "env", "environment variable")
	fs.Var(&volumes, "volume", "volume mount")
	fs.StringVar(&network, "network", "default", "connect the container to a network")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("failed to parse arguments: %w\nRun 'dockwire --help' for usage", err)
	}

	config := Config{
		Host:           client.DefaultDockerHost,
		MaxConnections: DefaultMaxConnections,
		StopTimeout:    DefaultStopTimeout,
		Args:           Command(fs.Args()),
		Env:            Environment(env),
		Volumes:        volumes,
		Network:        network,
		Debug:          debug,
		RegistryAuth:   lookup[EnvRegistryAuth],
	}

	if configPath == "" {
		configPath = lookup[EnvConfigFile]
	}
	if configPath != "" {
		if err := config.loadFile(configPath); err != nil {
			return Config{}, err
		}
	}

	if value, ok := lookup[client.EnvOverrideHost]; ok && value != "" {
		config.Host = value
	}
	if value, ok := lookup[client.EnvOverrideAPIVersion]; ok && value != "" {
		config.APIVersion = value
	}
	if value, ok := lookup[client.EnvOverrideCertPath]; ok && value != "" {
		config.CertPath = value
	}
	if value, ok := lookup[client.EnvTLSVerify]; ok {
		config.TLSVerify = value != ""
	}

	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			config.Host = host
		case "api-version":
			config.APIVersion = apiVersion
		case "tlscacert-dir":
			config.CertPath = certPath
		case "tlsverify":
			config.TLSVerify = tlsVerify
		case "tls-insecure":
			config.TLSInsecure = tlsInsecure
		case "max-connections":
			if maxConnections <= 0 {
				flagErr = fmt.Errorf("invalid --max-connections %d: must be positive", maxConnections)
			}
			config.MaxConnections = maxConnections
		case "push-retries":
			if pushRetries < 0 {
				flagErr = fmt.Errorf("invalid --push-retries %d: must not be negative", pushRetries)
			}
			config.PushRetries = pushRetries
		case "stop-timeout":
			config.StopTimeout = stopTimeout
		}
	})
	if flagErr != nil {
		return Config{}, flagErr
	}
	if config.TLSVerify && config.TLSInsecure {
		return Config{}, fmt.Errorf("--tlsverify and --tls-insecure are mutually exclusive\nUnset DOCKER_TLS_VERIFY or drop --tls-insecure")
	}

	return config, nil
}

func (c *Config) loadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %q: %w\nCheck that the file exists and is readable", path, err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(content, &file); err != nil {
		return fmt.Errorf("failed to parse config file %q: %w\nThe file must be a YAML mapping", path, err)
	}

	if file.Host != "" {
		c.Host = file.Host
	}
	if file.APIVersion != "" {
		c.APIVersion = file.APIVersion
	}
	if file.CertPath != "" {
		c.CertPath = file.CertPath
	}
	if file.TLSVerify != nil {
		c.TLSVerify = *file.TLSVerify
	}
	if file.TLSInsecure != nil {
		c.TLSInsecure = *file.TLSInsecure
	}
	if file.MaxConnections < 0 || file.PushRetries < 0 {
		return fmt.Errorf("failed to load config file %q: max_connections and push_retries must not be negative", path)
	}
	if file.MaxConnections > 0 {
		c.MaxConnections = file.MaxConnections
	}
	if file.PushRetries > 0 {
		c.PushRetries = file.PushRetries
	}
	if file.StopTimeout > 0 {
		c.StopTimeout = file.StopTimeout
	}

	return nil
}

// String renders the resolved daemon settings for debug output.
func (c Config) String() string {
	return fmt.Sprintf("host=%s api-version=%s tls-verify=%t tls-insecure=%t max-connections=%d push-retries=%d",
		c.Host, c.APIVersion, c.TLSVerify, c.TLSInsecure, c.MaxConnections, c.PushRetries)
}
