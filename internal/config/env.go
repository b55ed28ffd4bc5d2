// Package config loads process configuration: secrets from AWS Secrets
// Manager, then a local .env file, then typed structs from the environment.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Report describes where the environment came from. It is returned rather
// than logged because the logger itself is configured from the environment.
type Report struct {
	SecretID       string
	SecretsApplied int
	SecretErr      error
	DotEnvPath     string
	DotEnvLoaded   bool
}

// secretsAPI is the subset of the Secrets Manager client used here.
type secretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// LoadEnv pulls secrets from AWS Secrets Manager (if configured) and then
// loads a .env file. A failed secret fetch is reported, not fatal.
func LoadEnv(ctx context.Context, defaultEnvPath string) Report {
	var rep Report
	rep.SecretID = secretID()
	if rep.SecretID != "" {
		client, err := newSecretsClient(ctx, os.Getenv("AWS_SECRETS_MANAGER_REGION"))
		if err != nil {
			rep.SecretErr = err
		} else {
			rep.SecretsApplied, rep.SecretErr = loadSecrets(ctx, client, rep.SecretID)
		}
	}
	rep.DotEnvPath, rep.DotEnvLoaded = loadDotEnv(defaultEnvPath)
	return rep
}

// Parse fills a typed config struct from `env` struct tags.
func Parse[T any]() (T, error) {
	cfg, err := env.ParseAs[T]()
	if err != nil {
		return cfg, fmt.Errorf("parse env config: %w", err)
	}
	return cfg, nil
}

func secretID() string {
	if id := os.Getenv("AWS_SECRETS_MANAGER_SECRET_ID"); id != "" {
		return id
	}
	return os.Getenv("AWS_SECRET_ID")
}

func loadDotEnv(defaultEnvPath string) (string, bool) {
	envFile := os.Getenv("ENV_FILE_PATH")
	if envFile == "" {
		envFile = defaultEnvPath
	}
	if err := godotenv.Load(envFile); err == nil {
		return envFile, true
	}
	if err := godotenv.Load(); err == nil {
		return ".env", true
	}
	return envFile, false
}

func newSecretsClient(ctx context.Context, region string) (*secretsmanager.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

func loadSecrets(ctx context.Context, client secretsAPI, id string) (int, error) {
	stage := os.Getenv("AWS_SECRETS_MANAGER_VERSION_STAGE")
	if stage == "" {
		stage = "AWSCURRENT"
	}
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(id),
		VersionStage: aws.String(stage),
	})
	if err != nil {
		return 0, fmt.Errorf("fetch secret %s: %w", id, err)
	}

	var payload string
	switch {
	case out.SecretString != nil:
		payload = *out.SecretString
	case len(out.SecretBinary) > 0:
		payload = string(out.SecretBinary)
	default:
		return 0, fmt.Errorf("secret %s has no payload", id)
	}
	overwrite := strings.EqualFold(os.Getenv("AWS_SECRETS_MANAGER_OVERWRITE"), "true")
	return applySecretPayload(payload, overwrite)
}

// applySecretPayload copies a flat JSON object into the environment. Existing
// variables win unless overwrite is set.
func applySecretPayload(payload string, overwrite bool) (int, error) {
	var kv map[string]any
	if err := json.Unmarshal([]byte(payload), &kv); err != nil {
		return 0, fmt.Errorf("secret payload is not a JSON object: %w", err)
	}
	applied := 0
	for key, val := range kv {
		if !overwrite && os.Getenv(key) != "" {
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(val)); err != nil {
			return applied, fmt.Errorf("set %s: %w", key, err)
		}
		applied++
	}
	return applied, nil
}
