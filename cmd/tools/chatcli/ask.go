package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/eray/backend/internal/model/chat"
	"github.com/zhouzirui/eray/backend/internal/service/conversation"
)

type askOptions struct {
	sessionID  string
	modelKey   string
	articleIDs []string
	prompt     string
}

// errGenerationFailed 表示回复以错误结束，错误文本已经写入会话。
var errGenerationFailed = errors.New("generation failed")

func askCmd() *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "ask <text>",
		Short: "Send a message and stream the reply",
		Long:  "Send a message to a new or existing session. The reply streams to stdout and is saved like a web chat.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return runAsk(cmd.Context(), services.Engines, scope(), cmd.OutOrStdout(), text, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.sessionID, "session", "s", "", "Continue an existing session")
	cmd.Flags().StringVarP(&opts.modelKey, "model", "m", "", "Model key (see 'chatcli models')")
	cmd.Flags().StringArrayVarP(&opts.articleIDs, "article", "a", nil, "Attach an article by id (repeatable)")
	cmd.Flags().StringVar(&opts.prompt, "system", "", "Override the system prompt")
	return cmd
}

// replyPrinter 把累计文本的增量部分写到终端。
type replyPrinter struct {
	out     io.Writer
	printed int
	failed  bool
	session string
}

func (p *replyPrinter) listen(event conversation.Event) {
	switch event.Type {
	case conversation.EventDelta:
		p.write(event.Content)
	case conversation.EventDone:
		p.write(event.Content)
		fmt.Fprintln(p.out)
		p.session = event.SessionID
	case conversation.EventError:
		// 错误文本替换了已输出的部分回复。
		if p.printed > 0 {
			fmt.Fprintln(p.out)
		}
		fmt.Fprintln(p.out, event.Content)
		p.session = event.SessionID
		p.failed = true
	case conversation.EventCanceled:
		fmt.Fprintln(p.out, "\n[已停止]")
	case conversation.EventPersistFailed:
		fmt.Fprintf(p.out, "[保存失败] %s\n", event.Error)
	}
}

func (p *replyPrinter) write(content string) {
	if len(content) > p.printed {
		fmt.Fprint(p.out, content[p.printed:])
		p.printed = len(content)
	}
}

func runAsk(ctx context.Context, engines *conversation.Factory, scope chat.Scope, out io.Writer, text string, opts askOptions) error {
	printer := &replyPrinter{out: out}
	engine := engines.New(ctx, scope, printer.listen)

	if opts.sessionID != "" {
		if err := engine.Open(ctx, opts.sessionID); err != nil {
			return err
		}
	}
	if opts.modelKey != "" {
		if err := engine.SetModel(opts.modelKey); err != nil {
			return err
		}
	}
	if opts.prompt != "" {
		engine.SetSystemPrompt(opts.prompt)
	}

	articles, err := engine.ResolveArticles(ctx, opts.articleIDs)
	if err != nil {
		return err
	}
	if err := engine.Send(ctx, text, articles); err != nil {
		return err
	}
	engine.Wait()

	if printer.session != "" {
		fmt.Fprintf(out, "(session %s)\n", printer.session)
	}
	if printer.failed {
		return errGenerationFailed
	}
	return nil
}
