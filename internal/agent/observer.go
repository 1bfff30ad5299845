package agent

import (
	"context"
	"log/slog"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"
)

// newModelObserver logs chat model calls made during a run.
func newModelObserver(logger *slog.Logger) einocb.Handler {
	h := &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			if input != nil {
				logger.Debug("model call started",
					"model", info.Name,
					"messages", len(input.Messages),
					"tools", len(input.Tools),
				)
			}
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			if output != nil && output.TokenUsage != nil {
				logger.Debug("model call finished",
					"model", info.Name,
					"prompt_tokens", output.TokenUsage.PromptTokens,
					"completion_tokens", output.TokenUsage.CompletionTokens,
				)
			}
			return ctx
		},
		OnEndWithStreamOutput: func(ctx context.Context, info *einocb.RunInfo, output *schema.StreamReader[*model.CallbackOutput]) context.Context {
			go drainModelStream(logger, info.Name, output)
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logger.Warn("model call failed", "model", info.Name, "error", err)
			return ctx
		},
	}
	return callbackHelper.NewHandlerHelper().ChatModel(h).Handler()
}

func drainModelStream(logger *slog.Logger, name string, sr *schema.StreamReader[*model.CallbackOutput]) {
	defer sr.Close()
	chunks := 0
	var usage *model.TokenUsage
	for {
		out, err := sr.Recv()
		if err != nil {
			break
		}
		chunks++
		if out != nil && out.TokenUsage != nil {
			usage = out.TokenUsage
		}
	}
	attrs := []any{"model", name, "chunks", chunks}
	if usage != nil {
		attrs = append(attrs, "prompt_tokens", usage.PromptTokens, "completion_tokens", usage.CompletionTokens)
	}
	logger.Debug("model stream finished", attrs...)
}

// withModelObserver attaches the observer to ctx for a chat model call.
func withModelObserver(ctx context.Context, name string, handler einocb.Handler) context.Context {
	if handler == nil {
		return ctx
	}
	return einocb.InitCallbacks(ctx, &einocb.RunInfo{
		Name:      name,
		Type:      "SharedState",
		Component: components.ComponentOfChatModel,
	}, handler)
}
