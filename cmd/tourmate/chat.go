package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/culturaltourmate/tourmate/internal/i18n"
	"github.com/culturaltourmate/tourmate/pkg/media"
)

func newChatCmd(o *rootOptions) *cobra.Command {
	var (
		sessionID string
		image     string
		lang      string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session",
		Long: `Start an interactive session. Stage a photo with /image, then ask
questions about it. Type /help for the list of commands.

With --session and a file or redis journal, the conversation of an earlier
session is restored before the prompt appears.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if lang != "" {
				o.cfg.Language = lang
			}
			a, err := newApp(o.cfg, sessionID)
			if err != nil {
				return err
			}
			defer a.Close()

			line := liner.NewLiner()
			defer line.Close()
			line.SetCtrlCAborts(true)

			r := &repl{app: a, in: historyPrompter{line}, out: cmd.OutOrStdout()}
			if err := r.start(cmd.Context(), sessionID != "", image); err != nil {
				return err
			}
			return r.loop(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID to use (resumes a journaled session)")
	cmd.Flags().StringVarP(&image, "image", "i", "", "Image to stage before the first question")
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "Answer language (en, zh)")
	return cmd
}

type prompter interface {
	Prompt(prompt string) (string, error)
}

// historyPrompter records non-empty lines in the liner history.
type historyPrompter struct {
	*liner.State
}

func (p historyPrompter) Prompt(prompt string) (string, error) {
	line, err := p.State.Prompt(prompt)
	if err == nil && strings.TrimSpace(line) != "" {
		p.AppendHistory(line)
	}
	return line, err
}

type repl struct {
	app *app
	in  prompter
	out io.Writer
}

func (r *repl) lang() i18n.Lang {
	return langOf(r.app.ctrl)
}

func (r *repl) start(ctx context.Context, resume bool, image string) error {
	lang := r.lang()
	fmt.Fprintf(r.out, "%s\n%s\n\n", i18n.T(lang, i18n.Title), i18n.T(lang, i18n.Slogan))

	if resume {
		n, err := r.app.ctrl.Resume(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			fmt.Fprintf(r.out, "Resumed session %s (%d turns).\n", r.app.ctrl.Store().ID(), n)
			renderTranscript(r.out, r.app.ctrl.Store().Snapshot(), lang)
			fmt.Fprintln(r.out)
		}
	}
	if image != "" {
		r.stage(image)
	}
	fmt.Fprintln(r.out, i18n.T(lang, i18n.HelpText))
	return nil
}

// loop reads lines until /quit or end of input.
func (r *repl) loop(ctx context.Context) error {
	for {
		input, err := r.in.Prompt("> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if strings.HasPrefix(input, "/") {
			if quit := r.command(ctx, input); quit {
				return nil
			}
			continue
		}
		r.ask(ctx, input)
	}
}

// command runs a slash command and reports whether the loop should end.
func (r *repl) command(ctx context.Context, input string) bool {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.Trim(strings.TrimSpace(arg), `"'`)
	lang := r.lang()

	switch name {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(r.out, i18n.T(lang, i18n.HelpText))
	case "/image":
		if arg == "" {
			fmt.Fprintln(r.out, "usage: /image <path>")
			return false
		}
		r.stage(arg)
	case "/voice":
		if arg == "" {
			fmt.Fprintln(r.out, "usage: /voice <path>")
			return false
		}
		r.voice(ctx, arg)
	case "/lang":
		l, err := i18n.Parse(arg)
		if err != nil {
			fmt.Fprintln(r.out, err)
			return false
		}
		r.app.ctrl.SetLanguage(string(l))
		fmt.Fprintln(r.out, i18n.T(l, i18n.LanguageChanged))
	case "/history":
		renderTranscript(r.out, r.app.ctrl.Store().Snapshot(), lang)
	case "/reset":
		if err := r.app.ctrl.Reset(ctx); err != nil {
			fmt.Fprintln(r.out, describeError(err, lang))
			return false
		}
		fmt.Fprintln(r.out, i18n.T(lang, i18n.SessionReset))
	default:
		fmt.Fprintf(r.out, "unknown command %s\n", name)
		fmt.Fprintln(r.out, i18n.T(lang, i18n.HelpText))
	}
	return false
}

func (r *repl) stage(path string) {
	lang := r.lang()
	att, err := r.app.stageFile(path)
	if err != nil {
		fmt.Fprintln(r.out, describeError(err, lang))
		return
	}
	fmt.Fprintln(r.out, i18n.Tf(lang, i18n.ImageStaged, media.HumanSize(int64(len(att.Data)))))
}

// voice transcribes a recorded question and asks it.
func (r *repl) voice(ctx context.Context, path string) {
	lang := r.lang()
	clip, err := r.app.cfg.Media.LoadAudioFile(path)
	if err != nil {
		fmt.Fprintln(r.out, describeError(err, lang))
		return
	}
	text, err := r.app.ctrl.Transcribe(ctx, clip.MIMEType, clip.Data)
	if err != nil {
		fmt.Fprintln(r.out, describeError(err, lang))
		return
	}
	fmt.Fprintln(r.out, i18n.Tf(lang, i18n.VoiceRecognized, text))
	r.ask(ctx, text)
}

// ask submits one question. Ctrl-C while waiting cancels the call.
func (r *repl) ask(ctx context.Context, question string) {
	lang := r.lang()

	callCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	fmt.Fprintln(r.out, i18n.T(lang, i18n.Thinking))
	res, err := r.app.ctrl.Submit(callCtx, question)
	if err != nil {
		fmt.Fprintln(r.out, describeError(err, lang))
		return
	}
	fmt.Fprintln(r.out)
	renderTurn(r.out, res.Assistant, lang)
	fmt.Fprintln(r.out)
}
