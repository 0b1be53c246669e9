package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/embedchat/internal/transport"
	"github.com/zhouzirui/embedchat/internal/widget"
)

var errQuit = errors.New("quit")

const chatHelp = `commands:
  /summary   send the first default message
  /reset     reset the conversation
  /session   show the session id
  /support   show the support link
  /history   show the conversation
  /close     close the chat window
  /open      open the chat window
  /quit      leave
anything else is sent as a message`

func newChatCommand(opts *rootOptions) *cobra.Command {
	var origin string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the chat window and talk from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			return runChat(cmd.Context(), a, cmd.InOrStdin(), cmd.OutOrStdout(), origin)
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "http://localhost", "host page origin used in the support link")
	return cmd
}

func runChat(ctx context.Context, a *app, in io.Reader, out io.Writer, origin string) error {
	var outMu sync.Mutex
	printf := func(format string, args ...any) {
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintf(out, format, args...)
	}

	shell := widget.New(a.settings, a.sessions, a.client,
		widget.WithLogger(a.logger),
		widget.WithStreamObserver(func(res transport.ChatResult) error {
			if res.TextResponse != "" {
				printf("%s", res.TextResponse)
			}
			if res.Close {
				printf("\n")
			}
			return nil
		}),
		widget.WithErrorObserver(func(err error) {
			printf("error: %v\n", err)
		}),
	)
	defer shell.Unmount()

	if err := shell.Boot(ctx); err != nil {
		return err
	}
	settled, err := shell.Open(ctx)
	if err != nil {
		return err
	}
	<-settled

	messages, _ := shell.History()
	outMu.Lock()
	printHistory(out, messages)
	outMu.Unlock()
	if text, link, ok := shell.Sponsor(); ok {
		printf("%s <%s>\n", text, link)
	}
	printf("type /help for commands\n")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	shortcuts := widget.NewShortcuts(a.settings, shell, shell)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return shell.Run(gctx)
	})
	g.Go(func() error {
		defer shell.Unmount()
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				err := handleLine(gctx, shell, shortcuts, strings.TrimSpace(line), origin, printf)
				if errors.Is(err, errQuit) {
					return nil
				}
				if err != nil {
					printf("error: %v\n", err)
				}
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func handleLine(ctx context.Context, shell *widget.Shell, shortcuts *widget.Shortcuts, line, origin string, printf func(string, ...any)) error {
	switch line {
	case "":
		return nil
	case "/quit", "/exit":
		return errQuit
	case "/help":
		printf("%s\n", chatHelp)
		return nil
	case "/summary":
		return shortcuts.Summarize(ctx)
	case "/reset":
		if err := shell.Menu().ResetChat(ctx); err != nil {
			return err
		}
		printf("conversation reset\n")
		return nil
	case "/session":
		if id, ok := shell.Menu().SessionID(); ok {
			printf("%s\n", id)
		}
		return nil
	case "/support":
		link, ok := shell.Menu().SupportLink(origin)
		if !ok {
			printf("no support email configured\n")
			return nil
		}
		printf("%s\n", link)
		return nil
	case "/history":
		messages, loading := shell.History()
		if loading {
			printf("(loading)\n")
			return nil
		}
		var b strings.Builder
		printHistory(&b, messages)
		printf("%s", b.String())
		return nil
	case "/close":
		shell.Close()
		return nil
	case "/open":
		_, err := shell.Open(ctx)
		return err
	}
	return shell.Send(ctx, line)
}
