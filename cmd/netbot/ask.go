package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/normanking/netbot/internal/orchestrator"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ASK COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

var (
	personaStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7AA2F7"))
	metaStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#565F89"))
	failStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F7768E"))
)

func askCmd() *cobra.Command {
	var (
		sessionID string
		language  string
		plain     bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question",
		Long: `Ask routes one question to the right persona and prints the answer.

Mention a persona to skip routing:  netbot ask "@bytefix google.com'a ping at"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, cleanup, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			reply, err := a.service.Handle(ctx, orchestrator.Turn{
				SessionID: sessionID,
				Query:     query,
				Language:  language,
			})
			if err != nil {
				return err
			}

			color := !plain && termenv.NewOutput(os.Stdout).Profile != termenv.Ascii
			if !color {
				lipgloss.SetColorProfile(termenv.Ascii)
			}

			header := personaStyle.Render(reply.Persona.Name)
			if reply.Capability != "" {
				header += metaStyle.Render(fmt.Sprintf("  (%s)", reply.Capability))
			}
			fmt.Println(header)

			if !color {
				// Plain output streams fragments as they arrive.
				for reply.Stream.Next() {
					fmt.Print(reply.Stream.Text())
				}
				fmt.Println()
			} else {
				fmt.Print(renderMarkdown(reply.Stream.Collect()))
			}

			if reply.Stream.Failed() {
				fmt.Fprintln(os.Stderr, failStyle.Render("response generation failed"))
				return reply.Stream.Err()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id to continue")
	cmd.Flags().StringVar(&language, "lang", "", "answer language (tr or en, default from config)")
	cmd.Flags().BoolVar(&plain, "plain", false, "disable colors and markdown rendering")
	return cmd
}

// renderMarkdown renders an answer for the terminal, falling back to the raw
// text when glamour cannot.
func renderMarkdown(text string) string {
	width := 100
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		log.Debug("glamour renderer unavailable: %v", err)
		return text + "\n"
	}
	out, err := renderer.Render(text)
	if err != nil {
		log.Debug("markdown render failed: %v", err)
		return text + "\n"
	}
	return out
}
