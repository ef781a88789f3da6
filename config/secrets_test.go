package config

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEnvSecretManager(t *testing.T) {
	manager := &EnvSecretManager{}

	t.Setenv("THREATGATE_LIBRARY_USERNAME", "reader")
	t.Setenv("THREATGATE_LIBRARY_PASSWORD", "s3cr3t")

	username, err := manager.GetUsername()
	require.NoError(t, err)
	assert.Equal(t, "reader", username)

	password, err := manager.GetPassword()
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", password)

	_, err = manager.GetSecret("missing_key")
	assert.Error(t, err)
}

func vaultServer(t *testing.T, path string, data map[string]interface{}) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/"+path || r.Header.Get("X-Vault-Token") != "root" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestVaultSecretManager(t *testing.T) {
	tests := []struct {
		name string
		data map[string]interface{}
	}{
		{name: "kv v1", data: map[string]interface{}{"username": "vault-user", "password": "vault-pass"}},
		{name: "kv v2", data: map[string]interface{}{"data": map[string]interface{}{"username": "vault-user", "password": "vault-pass"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := vaultServer(t, "secret/threatgate", tt.data)

			cfg := &Config{}
			cfg.Secrets.Vault.Address = server.URL
			cfg.Secrets.Vault.Token = "root"
			cfg.Secrets.Vault.Path = "secret/threatgate"

			manager, err := NewVaultSecretManager(cfg)
			require.NoError(t, err)

			username, err := manager.GetUsername()
			require.NoError(t, err)
			assert.Equal(t, "vault-user", username)

			password, err := manager.GetPassword()
			require.NoError(t, err)
			assert.Equal(t, "vault-pass", password)

			_, err = manager.GetSecret("token")
			assert.Error(t, err)
		})
	}
}

func TestVaultSecretManager_NotFound(t *testing.T) {
	server := vaultServer(t, "secret/other", map[string]interface{}{})

	cfg := &Config{}
	cfg.Secrets.Vault.Address = server.URL
	cfg.Secrets.Vault.Token = "root"
	cfg.Secrets.Vault.Path = "secret/threatgate"

	manager, err := NewVaultSecretManager(cfg)
	require.NoError(t, err)
	_, err = manager.GetUsername()
	assert.Error(t, err)
}

type fakeSecretsManager struct {
	secret *string
	err    error
	asked  string
}

func (f *fakeSecretsManager) GetSecretValue(input *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error) {
	f.asked = aws.StringValue(input.SecretId)
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: f.secret}, nil
}

func TestAWSSecretManager(t *testing.T) {
	cfg := &Config{}
	cfg.Secrets.AWS.SecretID = "team/threatgate"
	client := &fakeSecretsManager{secret: aws.String(`{"username":"aws-user","password":"aws-pass"}`)}
	manager := &AWSSecretManager{config: cfg, client: client}

	username, err := manager.GetUsername()
	require.NoError(t, err)
	assert.Equal(t, "aws-user", username)
	assert.Equal(t, "team/threatgate", client.asked)

	password, err := manager.GetPassword()
	require.NoError(t, err)
	assert.Equal(t, "aws-pass", password)
}

func TestAWSSecretManager_Errors(t *testing.T) {
	cfg := &Config{}
	tests := []struct {
		name   string
		client *fakeSecretsManager
	}{
		{name: "api error", client: &fakeSecretsManager{err: errors.New("AccessDenied")}},
		{name: "binary secret", client: &fakeSecretsManager{}},
		{name: "not json", client: &fakeSecretsManager{secret: aws.String("plain")}},
		{name: "missing key", client: &fakeSecretsManager{secret: aws.String(`{"other":"x"}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := &AWSSecretManager{config: cfg, client: tt.client}
			_, err := manager.GetUsername()
			assert.Error(t, err)
		})
	}
}

func TestNewSecretManager(t *testing.T) {
	cfg := &Config{}
	manager, err := NewSecretManager(cfg)
	require.NoError(t, err)
	assert.IsType(t, &EnvSecretManager{}, manager)

	cfg.Secrets.Provider = "gcp"
	_, err = NewSecretManager(cfg)
	assert.Error(t, err)
}

type staticSecrets struct {
	username, password string
	err                error
}

func (s staticSecrets) GetSecret(string) (string, error) { return "", s.err }
func (s staticSecrets) GetUsername() (string, error)     { return s.username, s.err }
func (s staticSecrets) GetPassword() (string, error)     { return s.password, s.err }

func TestLoadLibraryCredentials(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, loadLibraryCredentials(cfg, staticSecrets{username: "u", password: "p"}, nopLogger()))
	assert.Equal(t, "u", cfg.Library.Username)
	assert.Equal(t, "p", cfg.Library.Password)

	missing := &Config{}
	require.NoError(t, loadLibraryCredentials(missing, staticSecrets{err: errors.New("not set")}, nopLogger()))
	assert.Empty(t, missing.Library.Username)
}

func TestLoadSecrets_ConfiguredCredentialsWin(t *testing.T) {
	t.Setenv("THREATGATE_LIBRARY_USERNAME", "from-env")
	cfg := &Config{}
	cfg.Library.Username = "explicit"
	require.NoError(t, LoadSecrets(cfg, nil))
	assert.Equal(t, "explicit", cfg.Library.Username)
}

func nopLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
