// Package judge scores assistant behaviour against natural-language criteria
// using an LLM, and builds the underlying provider from configuration.
package judge

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/googleai/vertex"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/mdwoicke/dentix-ortho-sub013/logger"
)

// ===== PROVIDER TYPES =====

const (
	ProviderGroq            = "GROQ"
	ProviderGoogle          = "GOOGLE"
	ProviderVertex          = "VERTEX"
	ProviderAnthropic       = "ANTHROPIC"
	ProviderAmazonAnthropic = "AMAZON-ANTHROPIC"
	ProviderOpenAI          = "OPENAI"
	ProviderAzure           = "AZURE"
)

// ProviderConfig selects and authenticates the judge's LLM backend.
type ProviderConfig struct {
	Type            string `yaml:"type" json:"type"`
	Model           string `yaml:"model" json:"model"`
	Token           string `yaml:"token,omitempty" json:"token,omitempty"`
	Secret          string `yaml:"secret,omitempty" json:"secret,omitempty"`
	BaseURL         string `yaml:"base_url,omitempty" json:"baseUrl,omitempty"`
	Version         string `yaml:"version,omitempty" json:"version,omitempty"`
	AuthType        string `yaml:"auth_type,omitempty" json:"authType,omitempty"`
	ProjectID       string `yaml:"project_id,omitempty" json:"projectId,omitempty"`
	Location        string `yaml:"location,omitempty" json:"location,omitempty"`
	CredentialsPath string `yaml:"credentials_path,omitempty" json:"credentialsPath,omitempty"`
}

// CreateProvider builds the langchaingo model for the configured backend.
func CreateProvider(ctx context.Context, p ProviderConfig) (llms.Model, error) {
	// Token required for everything except Vertex and Azure with Entra ID auth
	isEntraIDAuth := p.Type == ProviderAzure && strings.ToLower(p.AuthType) == "entra_id"
	if p.Type != ProviderVertex && !isEntraIDAuth && p.Token == "" {
		return nil, fmt.Errorf("provider token is empty")
	}

	if p.Model == "" {
		return nil, fmt.Errorf("provider model is empty")
	}

	var llmModel llms.Model
	var err error

	switch p.Type {
	case ProviderGroq:
		opts := []openai.Option{
			openai.WithToken(p.Token),
			openai.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
			logger.Logger.Debug("Using custom base URL", "url", p.BaseURL)
		} else {
			opts = append(opts, openai.WithBaseURL("https://api.groq.com/openai/v1"))
		}
		llmModel, err = openai.New(opts...)
	case ProviderGoogle:
		llmModel, err = googleai.New(ctx,
			googleai.WithAPIKey(p.Token),
			googleai.WithDefaultModel(p.Model),
		)
	case ProviderVertex:
		llmModel, err = vertex.New(
			ctx,
			googleai.WithDefaultModel(p.Model),
			googleai.WithCloudProject(p.ProjectID),
			googleai.WithCloudLocation(p.Location),
			googleai.WithCredentialsFile(p.CredentialsPath),
		)
	case ProviderAnthropic:
		llmModel, err = anthropic.New(
			anthropic.WithModel(p.Model),
			anthropic.WithToken(p.Token),
		)
	case ProviderAmazonAnthropic:
		cfg, cfgErr := config.LoadDefaultConfig(ctx,
			config.WithRegion(p.Location),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				p.Token,
				p.Secret,
				"",
			)),
		)
		if cfgErr != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", cfgErr)
		}
		brc := bedrockruntime.NewFromConfig(cfg)
		llmModel, err = bedrock.New(
			bedrock.WithClient(brc),
			bedrock.WithModel(p.Model),
		)
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(p.Token),
			openai.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
			logger.Logger.Debug("Using custom base URL", "url", p.BaseURL)
		}
		llmModel, err = openai.New(opts...)
	case ProviderAzure:
		if p.Version == "" {
			return nil, fmt.Errorf("Azure provider requires version")
		}
		if p.BaseURL == "" {
			return nil, fmt.Errorf("Azure provider requires base URL")
		}

		opts := []openai.Option{
			openai.WithModel(p.Model),
			openai.WithAPIVersion(p.Version),
			openai.WithBaseURL(p.BaseURL),
		}
		logger.Logger.Debug("Using Azure base URL", "url", p.BaseURL)

		if isEntraIDAuth {
			logger.Logger.Debug("Using Entra ID authentication for Azure provider")
			cred, err := azidentity.NewDefaultAzureCredential(nil)
			if err != nil {
				return nil, fmt.Errorf("failed to create Azure credential: %w", err)
			}
			token, err := cred.GetToken(ctx, policy.TokenRequestOptions{
				Scopes: []string{"https://cognitiveservices.azure.com/.default"},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to get Azure token: %w", err)
			}
			opts = append(opts, openai.WithAPIType(openai.APITypeAzureAD))
			opts = append(opts, openai.WithToken(token.Token))
		} else {
			if p.Token == "" {
				return nil, fmt.Errorf("Azure provider requires token when using api_key authentication")
			}
			opts = append(opts, openai.WithAPIType(openai.APITypeAzure))
			opts = append(opts, openai.WithToken(p.Token))
		}

		llmModel, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", p.Type)
	}

	if err != nil {
		return nil, err
	}
	if llmModel == nil {
		return nil, fmt.Errorf("provider created but model is nil")
	}

	logger.Logger.Info("Judge provider initialized", "type", p.Type, "model", p.Model)
	return llmModel, nil
}
