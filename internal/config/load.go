package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// DotEnvFile is read from the working directory when present.
const DotEnvFile = ".env"

// LoadOptions locates the configuration layers.
type LoadOptions struct {
	Environ    []string // process environment, KEY=VALUE
	WorkDir    string   // directory searched for .env; empty means the current directory
	DocPath    string   // config files are discovered next to this document
	ConfigPath string   // explicit config file; overrides discovery
}

// Load resolves the configuration. An explicitly named config file that
// cannot be read is an error; discovered files are optional.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()
	var errs []ValidationError

	dotenv, dotenvPath, err := readDotEnv(opts.WorkDir)
	if err != nil {
		return Config{}, err
	}
	if dotenvPath != "" {
		cf, envErrs := fromEnv(dotenv)
		errs = append(errs, envErrs...)
		errs = append(errs, cf.apply(&cfg, dotenvPath)...)
		cfg.Sources = append(cfg.Sources, dotenvPath)
	}

	environ := envMap(opts.Environ)

	path, explicit := configPath(opts, environ, dotenv)
	if path != "" {
		cf, err := LoadFile(path)
		switch {
		case err == nil:
			errs = append(errs, cf.apply(&cfg, path)...)
			cfg.Sources = append(cfg.Sources, path)
		case os.IsNotExist(err) && !explicit:
		case os.IsNotExist(err):
			return Config{}, fmt.Errorf("config file not found: %s", path)
		default:
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}

	cf, envErrs := fromEnv(environ)
	errs = append(errs, envErrs...)
	errs = append(errs, cf.apply(&cfg, "environment")...)

	errs = append(errs, Validate(cfg).Errors...)
	if len(errs) > 0 {
		return Config{}, &Error{Result: ValidationResult{Valid: false, Errors: errs}}
	}
	return cfg, nil
}

// readDotEnv returns the SHELLBOOK_* entries of dir/.env, or nothing when
// the file does not exist.
func readDotEnv(dir string) (map[string]string, string, error) {
	path := filepath.Join(dir, DotEnvFile)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, "", fmt.Errorf("invalid %s: %w", path, err)
	}
	return filterPrefixed(values), path, nil
}

// configPath picks the config file: the explicit option, SHELLBOOK_CONFIG
// from the environment or .env, then the first known name next to the document.
func configPath(opts LoadOptions, environ, dotenv map[string]string) (string, bool) {
	if opts.ConfigPath != "" {
		return opts.ConfigPath, true
	}
	if p := environ[EnvConfig]; p != "" {
		return p, true
	}
	if p := dotenv[EnvConfig]; p != "" {
		return p, true
	}
	if opts.DocPath == "" {
		return "", false
	}
	dir := filepath.Dir(opts.DocPath)
	for _, name := range FileNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, false
		}
	}
	return "", false
}
