package internal_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryanmoran/dockwire/internal"
)

func TestConfig(t *testing.T) {
	writeFile := func(t *testing.T, content string) string {
		t.Helper()

		path := filepath.Join(t.TempDir(), "dockwire.yml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		return path
	}

	t.Run("ParseConfig", func(t *testing.T) {
		t.Run("when given only a command", func(t *testing.T) {
			config, err := internal.ParseConfig([]string{"images"}, nil)
			require.NoError(t, err)

			require.Equal(t, internal.Command([]string{"images"}), config.Args)
			require.NotEmpty(t, config.Host)
			require.Equal(t, "", config.APIVersion)
			require.Equal(t, internal.DefaultMaxConnections, config.MaxConnections)
			require.Equal(t, 0, config.PushRetries)
			require.Equal(t, internal.DefaultStopTimeout, config.StopTimeout)
			require.Equal(t, "default", config.Network)
			require.False(t, config.TLSVerify)
			require.False(t, config.TLSInsecure)
			require.False(t, config.Debug)
		})

		t.Run("with daemon flags", func(t *testing.T) {
			args := []string{
				"--host", "tcp://10.0.0.2:2376",
				"--api-version", "1.43",
				"--tlscacert-dir", "/certs",
				"--tlsverify",
				"--max-connections", "8",
				"--push-retries", "3",
				"--debug",
				"push", "app:v1",
			}

			config, err := internal.ParseConfig(args, nil)
			require.NoError(t, err)
			require.Equal(t, "tcp://10.0.0.2:2376", config.Host)
			require.Equal(t, "1.43", config.APIVersion)
			require.Equal(t, "/certs", config.CertPath)
			require.True(t, config.TLSVerify)
			require.Equal(t, 8, config.MaxConnections)
			require.Equal(t, 3, config.PushRetries)
			require.True(t, config.Debug)
			require.Equal(t, internal.Command([]string{"push", "app:v1"}), config.Args)
		})

		t.Run("with --env and --volume flags", func(t *testing.T) {
			args := []string{
				"--env", "VAR1=value1",
				"--volume", "/host/path:/container/path",
				"--env", "VAR2=value with spaces",
				"--network", "some-network",
				"run", "alpine", "echo", "--arg",
			}

			config, err := internal.ParseConfig(args, nil)
			require.NoError(t, err)
			require.Equal(t, internal.Command([]string{"run", "alpine", "echo", "--arg"}), config.Args)
			require.Equal(t, internal.Environment([]string{"VAR1=value1", "VAR2=value with spaces"}), config.Env)
			require.Equal(t, []string{"/host/path:/container/path"}, config.Volumes)
			require.Equal(t, "some-network", config.Network)
		})

		t.Run("reads the daemon environment", func(t *testing.T) {
			env := []string{
				"DOCKER_HOST=unix:///tmp/other.sock",
				"DOCKER_API_VERSION=1.41",
				"DOCKER_CERT_PATH=/home/me/.docker",
				"DOCKER_TLS_VERIFY=1",
				"DOCKWIRE_REGISTRY_AUTH=e30=",
				"MALFORMED",
			}

			config, err := internal.ParseConfig([]string{"ping"}, env)
			require.NoError(t, err)
			require.Equal(t, "unix:///tmp/other.sock", config.Host)
			require.Equal(t, "1.41", config.APIVersion)
			require.Equal(t, "/home/me/.docker", config.CertPath)
			require.True(t, config.TLSVerify)
			require.Equal(t, "e30=", config.RegistryAuth)
		})

		t.Run("flags override the environment", func(t *testing.T) {
			env := []string{"DOCKER_HOST=unix:///tmp/other.sock", "DOCKER_TLS_VERIFY=1"}

			config, err := internal.ParseConfig([]string{"--host", "tcp://daemon:2375", "--tlsverify=false", "ping"}, env)
			require.NoError(t, err)
			require.Equal(t, "tcp://daemon:2375", config.Host)
			require.False(t, config.TLSVerify)
		})

		t.Run("reads a config file below the environment", func(t *testing.T) {
			path := writeFile(t, `
host: tcp://from-file:2375
api_version: "1.40"
cert_path: /file/certs
tls_verify: true
max_connections: 12
push_retries: 2
stop_timeout: 30
`)

			config, err := internal.ParseConfig([]string{"--config", path, "ping"}, []string{"DOCKER_API_VERSION=1.44"})
			require.NoError(t, err)
			require.Equal(t, "tcp://from-file:2375", config.Host)
			require.Equal(t, "1.44", config.APIVersion)
			require.Equal(t, "/file/certs", config.CertPath)
			require.True(t, config.TLSVerify)
			require.Equal(t, 12, config.MaxConnections)
			require.Equal(t, 2, config.PushRetries)
			require.Equal(t, 30, config.StopTimeout)
		})

		t.Run("opts out of certificate verification explicitly", func(t *testing.T) {
			config, err := internal.ParseConfig([]string{"--host", "https://daemon:2376", "--tls-insecure", "ping"}, nil)
			require.NoError(t, err)
			require.True(t, config.TLSInsecure)
			require.False(t, config.TLSVerify)

			config, err = internal.ParseConfig([]string{"--config", writeFile(t, "tls_insecure: true\n"), "ping"}, nil)
			require.NoError(t, err)
			require.True(t, config.TLSInsecure)
		})

		t.Run("finds the config file through the environment", func(t *testing.T) {
			path := writeFile(t, "push_retries: 5\n")

			config, err := internal.ParseConfig([]string{"--push-retries", "1", "ping"}, []string{"DOCKWIRE_CONFIG=" + path})
			require.NoError(t, err)
			require.Equal(t, 1, config.PushRetries)
		})

		t.Run("fails", func(t *testing.T) {
			t.Run("on an unknown flag", func(t *testing.T) {
				_, err := internal.ParseConfig([]string{"--bogus", "ping"}, nil)
				require.ErrorContains(t, err, "failed to parse arguments")
			})

			t.Run("on a non-positive connection limit", func(t *testing.T) {
				_, err := internal.ParseConfig([]string{"--max-connections", "0", "ping"}, nil)
				require.ErrorContains(t, err, "must be positive")
			})

			t.Run("on negative push retries", func(t *testing.T) {
				_, err := internal.ParseConfig([]string{"--push-retries", "-1", "ping"}, nil)
				require.ErrorContains(t, err, "must not be negative")
			})

			t.Run("when verification is both required and skipped", func(t *testing.T) {
				_, err := internal.ParseConfig([]string{"--tls-insecure", "ping"}, []string{"DOCKER_TLS_VERIFY=1"})
				require.ErrorContains(t, err, "mutually exclusive")
			})

			t.Run("on a missing config file", func(t *testing.T) {
				_, err := internal.ParseConfig([]string{"--config", filepath.Join(t.TempDir(), "missing.yml"), "ping"}, nil)
				require.ErrorContains(t, err, "failed to read config file")
			})

			t.Run("on a malformed config file", func(t *testing.T) {
				_, err := internal.ParseConfig([]string{"--config", writeFile(t, "host: [unterminated\n"), "ping"}, nil)
				require.ErrorContains(t, err, "failed to parse config file")
			})

			t.Run("on negative values in the config file", func(t *testing.T) {
				_, err := internal.ParseConfig([]string{"--config", writeFile(t, "max_connections: -3\n"), "ping"}, nil)
				require.ErrorContains(t, err, "must not be negative")
			})
		})
	})

	t.Run("String", func(t *testing.T) {
		config, err := internal.ParseConfig([]string{"--host", "tcp://daemon:2375", "ping"}, nil)
		require.NoError(t, err)
		require.Equal(t, "host=tcp://daemon:2375 api-version= tls-verify=false tls-insecure=false max-connections=100 push-retries=0", config.String())
	})
}
