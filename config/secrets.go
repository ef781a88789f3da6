package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

// SecretManager retrieves the credentials of the threats library.
type SecretManager interface {
	GetSecret(key string) (string, error)
	GetUsername() (string, error)
	GetPassword() (string, error)
}

// EnvSecretManager uses environment variables (default)
type EnvSecretManager struct{}

func (e *EnvSecretManager) GetSecret(key string) (string, error) {
	envKey := EnvPrefix + "_" + strings.ToUpper(key)
	value := os.Getenv(envKey)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envKey)
	}
	return value, nil
}

func (e *EnvSecretManager) GetUsername() (string, error) {
	return e.GetSecret("LIBRARY_USERNAME")
}

func (e *EnvSecretManager) GetPassword() (string, error) {
	return e.GetSecret("LIBRARY_PASSWORD")
}

// VaultSecretManager retrieves secrets from HashiCorp Vault
type VaultSecretManager struct {
	config *Config
	client *api.Client
}

func NewVaultSecretManager(config *Config) (*VaultSecretManager, error) {
	client, err := api.NewClient(&api.Config{
		Address: config.Secrets.Vault.Address,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if config.Secrets.Vault.Token != "" {
		client.SetToken(config.Secrets.Vault.Token)
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}

	return &VaultSecretManager{config: config, client: client}, nil
}

func (v *VaultSecretManager) GetSecret(key string) (string, error) {
	path := v.config.Secrets.Vault.Path
	if path == "" {
		path = "secret/threatgate"
	}

	secret, err := v.client.Logical().Read(path)
	if err != nil {
		return "", fmt.Errorf("failed to read from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret not found at path %s", path)
	}

	data := secret.Data
	// KV v2 nests the values under "data"
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}

	value, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in Vault secret", key)
	}
	strValue, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("secret value for key %s is not a string", key)
	}
	return strValue, nil
}

func (v *VaultSecretManager) GetUsername() (string, error) {
	return v.GetSecret("username")
}

func (v *VaultSecretManager) GetPassword() (string, error) {
	return v.GetSecret("password")
}

// secretsManagerAPI is the subset of the Secrets Manager client in use.
type secretsManagerAPI interface {
	GetSecretValue(input *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretManager retrieves secrets from AWS Secrets Manager. The secret
// string must be a JSON object of string values.
type AWSSecretManager struct {
	config *Config
	client secretsManagerAPI
}

func NewAWSSecretManager(config *Config) (*AWSSecretManager, error) {
	awsConfig := &aws.Config{Region: aws.String(config.Secrets.AWS.Region)}
	if config.Secrets.AWS.AccessKey != "" && config.Secrets.AWS.SecretKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			config.Secrets.AWS.AccessKey,
			config.Secrets.AWS.SecretKey,
			"",
		)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &AWSSecretManager{config: config, client: secretsmanager.New(sess)}, nil
}

func (a *AWSSecretManager) GetSecret(key string) (string, error) {
	secretID := a.config.Secrets.AWS.SecretID
	if secretID == "" {
		secretID = "threatgate/library"
	}

	result, err := a.client.GetSecretValue(&secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret from AWS: %w", err)
	}
	if result.SecretString == nil {
		return "", fmt.Errorf("AWS secret %s has no string value", secretID)
	}

	var secrets map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
		return "", fmt.Errorf("failed to parse AWS secret JSON: %w", err)
	}

	value, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in AWS secret", key)
	}
	return value, nil
}

func (a *AWSSecretManager) GetUsername() (string, error) {
	return a.GetSecret("username")
}

func (a *AWSSecretManager) GetPassword() (string, error) {
	return a.GetSecret("password")
}

// NewSecretManager creates the appropriate secret manager based on configuration
func NewSecretManager(config *Config) (SecretManager, error) {
	switch config.Secrets.Provider {
	case "", "env":
		return &EnvSecretManager{}, nil
	case "vault":
		return NewVaultSecretManager(config)
	case "aws":
		return NewAWSSecretManager(config)
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", config.Secrets.Provider)
	}
}

// LoadSecrets fills in library credentials from the secret manager when
// none were configured. Remote libraries that need no credentials are
// unaffected: a missing secret is only logged.
func LoadSecrets(config *Config, logger *zap.SugaredLogger) error {
	if config.Library.Username != "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	manager, err := NewSecretManager(config)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	return loadLibraryCredentials(config, manager, logger)
}

func loadLibraryCredentials(config *Config, manager SecretManager, logger *zap.SugaredLogger) error {
	username, err := manager.GetUsername()
	if err != nil {
		logger.Debugw("No threats library username in secret store", "provider", config.Secrets.Provider, "error", err)
		return nil
	}
	password, err := manager.GetPassword()
	if err != nil {
		return fmt.Errorf("failed to load threats library password: %w", err)
	}
	config.Library.Username = username
	config.Library.Password = password
	return nil
}
