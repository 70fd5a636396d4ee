package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
)

// ProviderConfig holds configuration for the GenkitProvider.
type ProviderConfig struct {
	// Provider is the LLM provider: "google", "anthropic", "openai",
	// "openai_compatible", "openrouter". Empty defaults to "google".
	Provider string

	// Model is the model name for the configured provider.
	Model string

	// APIKey is the API key for the LLM provider.
	APIKey string

	// OpenAICompatible config.
	OpenAICompatibleProvider string
	OpenAICompatibleBaseURL  string
}

// GenkitProvider backs CompletionProvider with Genkit. Tool requests are
// returned to the caller instead of being executed inside Generate, so the
// loop keeps control over dispatch, history, and the iteration cap.
type GenkitProvider struct {
	g     *genkit.Genkit
	cfg   ProviderConfig
	tools []ai.ToolRef
	llmOn bool
}

// NewGenkitProvider initializes Genkit with the configured LLM provider.
func NewGenkitProvider(ctx context.Context, cfg ProviderConfig) *GenkitProvider {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = envAPIKeyForProvider(provider)
	}

	var g *genkit.Genkit
	llmOn := false

	switch provider {
	case "anthropic":
		if apiKey != "" {
			anthropicPlugin := &anthropic.Anthropic{
				APIKey:  apiKey,
				BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			}
			g = genkit.Init(ctx, genkit.WithPlugins(anthropicPlugin))
			llmOn = true
			slog.Info("genkit provider initialized", "provider", "anthropic", "model", cfg.Model)
		} else {
			g = genkit.Init(ctx)
			slog.Warn("Anthropic API key missing; completions disabled")
		}

	case "openai":
		if apiKey != "" {
			openaiPlugin := &compat_oai.OpenAICompatible{
				Provider: "openai",
				APIKey:   apiKey,
				BaseURL:  os.Getenv("OPENAI_BASE_URL"),
			}
			g = genkit.Init(ctx, genkit.WithPlugins(openaiPlugin))
			llmOn = true
			slog.Info("genkit provider initialized", "provider", "openai", "model", cfg.Model)
		} else {
			g = genkit.Init(ctx)
			slog.Warn("OpenAI API key missing; completions disabled")
		}

	case "openai_compatible":
		if apiKey != "" {
			compatPlugin := &compat_oai.OpenAICompatible{
				Provider: cfg.OpenAICompatibleProvider,
				APIKey:   apiKey,
				BaseURL:  cfg.OpenAICompatibleBaseURL,
			}
			g = genkit.Init(ctx, genkit.WithPlugins(compatPlugin))
			llmOn = true
			slog.Info("genkit provider initialized", "provider", "openai_compatible", "model", cfg.Model)
		} else {
			g = genkit.Init(ctx)
			slog.Warn("OpenAI compatible API key missing; completions disabled")
		}

	case "openrouter":
		if apiKey != "" {
			openrouterPlugin := &compat_oai.OpenAICompatible{
				Provider: "openrouter",
				APIKey:   apiKey,
				BaseURL:  "https://openrouter.ai/api/v1",
			}
			g = genkit.Init(ctx, genkit.WithPlugins(openrouterPlugin))
			llmOn = true
			slog.Info("genkit provider initialized", "provider", "openrouter", "model", cfg.Model)
		} else {
			g = genkit.Init(ctx)
			slog.Warn("OpenRouter API key missing; completions disabled")
		}

	default: // "google"
		if apiKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", apiKey)
			g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
			llmOn = true
			slog.Info("genkit provider initialized", "provider", "google", "model", cfg.Model)
		} else {
			g = genkit.Init(ctx)
			slog.Warn("Google API key missing; completions disabled")
		}
	}

	return &GenkitProvider{g: g, cfg: cfg, llmOn: llmOn}
}

// Genkit exposes the underlying instance for tool registration.
func (p *GenkitProvider) Genkit() *genkit.Genkit {
	return p.g
}

// SetTools installs the tool catalog advertised on every completion.
func (p *GenkitProvider) SetTools(tools []ai.ToolRef) {
	p.tools = tools
}

// Complete sends the whole request to the model and returns either text or
// the tool requests the model issued. WithReturnToolRequests keeps Genkit
// from executing tools itself.
func (p *GenkitProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	if !p.llmOn {
		return nil, fmt.Errorf("no LLM provider configured")
	}

	msgs := toGenkitMessages(req.Messages)
	if len(msgs) == 0 {
		return nil, fmt.Errorf("empty completion request")
	}

	// Escape % to survive the fmt path inside ai.WithSystem.
	system := strings.ReplaceAll(req.System, "%", "%%")

	opts := []ai.GenerateOption{
		ai.WithModelName(modelNameForProvider(strings.ToLower(p.cfg.Provider), p.cfg.Model)),
		ai.WithMessages(msgs...),
	}
	if system != "" {
		opts = append(opts, ai.WithSystem(system))
	}
	if len(p.tools) > 0 {
		opts = append(opts, ai.WithTools(p.tools...))
		opts = append(opts, ai.WithReturnToolRequests(true))
	}

	resp, err := genkit.Generate(ctx, p.g, opts...)
	if err != nil {
		return nil, fmt.Errorf("genkit generate: %w", err)
	}

	out := &Completion{Text: resp.Text()}
	if resp.Message != nil {
		for i, part := range resp.Message.Content {
			if !part.IsToolRequest() {
				continue
			}
			tr := part.ToolRequest
			ref := tr.Ref
			if ref == "" {
				ref = fmt.Sprintf("call-%d", i)
			}
			args, err := json.Marshal(tr.Input)
			if err != nil {
				return nil, fmt.Errorf("marshal tool request input: %w", err)
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: ref, Name: tr.Name, Args: args})
		}
	}
	return out, nil
}

func toGenkitMessages(messages []Message) []*ai.Message {
	var out []*ai.Message
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			out = append(out, ai.NewUserTextMessage(m.Content))
		case RoleSystem:
			out = append(out, &ai.Message{
				Role:    ai.RoleSystem,
				Content: []*ai.Part{ai.NewTextPart(m.Content)},
			})
		case RoleAssistant:
			var parts []*ai.Part
			if m.Content != "" {
				parts = append(parts, ai.NewTextPart(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				_ = json.Unmarshal(tc.Args, &input)
				parts = append(parts, ai.NewToolRequestPart(&ai.ToolRequest{
					Ref:   tc.ID,
					Name:  tc.Name,
					Input: input,
				}))
			}
			if len(parts) == 0 {
				continue
			}
			out = append(out, &ai.Message{Role: ai.RoleModel, Content: parts})
		case RoleTool:
			out = append(out, &ai.Message{
				Role: ai.RoleTool,
				Content: []*ai.Part{ai.NewToolResponsePart(&ai.ToolResponse{
					Ref:    m.ToolCallID,
					Name:   m.ToolName,
					Output: m.Content,
				})},
			})
		}
	}
	return out
}

func envAPIKeyForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai", "openai_compatible":
		return os.Getenv("OPENAI_API_KEY")
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY")
	default:
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	}
}

func modelNameForProvider(provider, model string) string {
	model = strings.TrimSpace(model)
	switch provider {
	case "anthropic":
		return "anthropic/" + model
	case "openai":
		return "openai/" + model
	case "openai_compatible", "openrouter":
		return model
	default:
		return "googleai/" + model
	}
}
