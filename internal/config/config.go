// Package config resolves server/store configuration from CLI flags,
// environment variables, an optional ironflow.yaml file, and built-in
// defaults, in that precedence order (highest first).
package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	ironerrors "github.com/skitsanos/ironflow/pkg/errors"
)

// Server holds the resolved configuration for the serve subcommand. The
// run, list and inspect subcommands do not use it; they read --store-dir
// only.
type Server struct {
	Host               string            `yaml:"host"`
	Port               int               `yaml:"port"`
	StoreDir           string            `yaml:"store_dir"`
	FlowsDir           string            `yaml:"flows_dir"`
	MaxBody            int64             `yaml:"max_body"`
	MaxConcurrentTasks int               `yaml:"max_concurrent_tasks"`
	Webhooks           map[string]string `yaml:"webhooks"`
}

// Defaults returns the built-in defaults.
func Defaults() Server {
	return Server{
		Host:     "127.0.0.1",
		Port:     8080,
		StoreDir: "./ironflow-runs",
		FlowsDir: ".",
		MaxBody:  10 * 1024 * 1024,
		Webhooks: map[string]string{},
	}
}

// LoadFile reads an optional ironflow.yaml at path; a missing file is not
// an error, it simply yields zero-value overrides.
func LoadFile(path string) (Server, error) {
	var s Server
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, &ironerrors.ConfigError{Key: path, Reason: "invalid YAML", Cause: err}
	}
	return s, nil
}

// LoadDotenv parses a .env file (KEY=VALUE per line, '#' comments, blank
// lines ignored) and sets each key in the process environment if it is
// not already set, so that an explicit environment variable always wins
// over the .env file per the documented precedence.
func LoadDotenv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

// Resolve merges CLI-flag values (flags, only non-zero-value fields
// considered "set"), the environment, a loaded config file, and
// defaults, applying precedence: flag > env > file > default.
func Resolve(flags Server, configFilePath string) Server {
	result := Defaults()

	if fileCfg, err := LoadFile(configFilePath); err == nil {
		mergeNonZero(&result, fileCfg)
	}

	mergeNonZero(&result, envOverrides())
	mergeNonZero(&result, flags)

	return result
}

func envOverrides() Server {
	var s Server
	s.Host = os.Getenv("HOST")
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.Port = n
		}
	}
	s.StoreDir = os.Getenv("STORE_DIR")
	s.FlowsDir = os.Getenv("FLOWS_DIR")
	if v := os.Getenv("MAX_BODY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.MaxBody = n
		}
	}
	if v := os.Getenv("IRONFLOW_MAX_CONCURRENT_TASKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.MaxConcurrentTasks = n
		}
	}
	return s
}

func mergeNonZero(dst *Server, src Server) {
	if src.Host != "" {
		dst.Host = src.Host
	}
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.StoreDir != "" {
		dst.StoreDir = src.StoreDir
	}
	if src.FlowsDir != "" {
		dst.FlowsDir = src.FlowsDir
	}
	if src.MaxBody != 0 {
		dst.MaxBody = src.MaxBody
	}
	if src.MaxConcurrentTasks != 0 {
		dst.MaxConcurrentTasks = src.MaxConcurrentTasks
	}
	if len(src.Webhooks) > 0 {
		dst.Webhooks = src.Webhooks
	}
}
