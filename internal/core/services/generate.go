package services

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"visualizer.worker/internal/core/domain"
	"visualizer.worker/internal/core/logger"
	"visualizer.worker/internal/core/ports"
	"visualizer.worker/internal/core/tracing"
)

const KindGenerate = "generate"

const (
	defaultMaxTokens   = 2048
	defaultTemperature = 0.7
	defaultTopP        = 0.95
	defaultTopK        = 50
)

// GenerateHandler runs text-completion jobs against the language-model server.
type GenerateHandler struct {
	supervisor ports.Supervisor
	generator  ports.TextGenerator
	model      string
}

func NewGenerateHandler(supervisor ports.Supervisor, generator ports.TextGenerator, model string) *GenerateHandler {
	return &GenerateHandler{supervisor: supervisor, generator: generator, model: model}
}

func (h *GenerateHandler) Kind() string { return KindGenerate }

func (h *GenerateHandler) Handle(ctx context.Context, job domain.Job) (result domain.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Generation job panicked", "panic", r, "stack", string(debug.Stack()))
			result = domain.ErrorResult(fmt.Sprintf("internal error: %v", r))
		}
	}()

	req := buildGenerationRequest(job.Input)
	if strings.TrimSpace(job.Input.Prompt) == "" {
		return domain.ErrorResult("No prompt provided")
	}

	if !h.supervisor.IsReady(ctx) {
		if err := h.supervisor.Start(ctx); err != nil {
			return fail(ctx, "backend", err)
		}
	}

	logger.InfoContext(ctx, "Generating response", "prompt", truncate(job.Input.Prompt, 100), "max_tokens", req.MaxTokens)

	ctx, span := tracing.StartSpan(ctx, "llm.generate", attribute.Int("max_tokens", req.MaxTokens))
	gen, err := h.generator.Generate(ctx, req)
	tracing.End(span, err)
	if err != nil {
		return fail(ctx, "generate", err)
	}

	model := gen.Model
	if model == "" {
		model = h.model
	}
	promptTokens := gen.PromptTokens
	if promptTokens == 0 {
		promptTokens = len(strings.Fields(req.Prompt))
	}
	completionTokens := gen.CompletionTokens
	if completionTokens == 0 {
		completionTokens = len(strings.Fields(gen.Text))
	}

	return domain.Result{
		"text":  gen.Text,
		"model": model,
		"usage": map[string]int{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
		},
	}
}

func buildGenerationRequest(in domain.JobInput) domain.GenerationRequest {
	prompt := in.Prompt
	if in.SystemPrompt != "" {
		prompt = fmt.Sprintf("%s\n\nUser: %s\n\nAssistant:", in.SystemPrompt, in.Prompt)
	}

	req := domain.GenerationRequest{
		Prompt:      prompt,
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
		TopP:        defaultTopP,
		TopK:        defaultTopK,
		Stop:        in.Stop,
	}
	if in.MaxTokens != nil {
		req.MaxTokens = *in.MaxTokens
	}
	if in.Temperature != nil {
		req.Temperature = *in.Temperature
	}
	if in.TopP != nil {
		req.TopP = *in.TopP
	}
	if in.TopK != nil {
		req.TopK = *in.TopK
	}
	return req
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
