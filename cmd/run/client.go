package run

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Mmx233/ChatRelay/client"
	"github.com/Mmx233/ChatRelay/config"
	"github.com/Mmx233/ChatRelay/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	clientEmail string

	clientCmd = &cobra.Command{
		Use:   "client",
		Short: "Start an interactive chat client",
		Long: "Start an interactive chat client. Each input line is sent as\n" +
			"\"<recipient email> <message>\"; incoming messages are printed as they arrive.",
		Args: cobra.NoArgs,
		RunE: runClient,
	}
)

func init() {
	clientCmd.Flags().StringVarP(&clientEmail, "email", "e", "", "log in as this email, overrides the config")
}

func runClient(cmd *cobra.Command, args []string) error {
	logger := log.With().Str("com", "client-cmd").Logger()

	logger.Info().Str("config", configFile).Msg("loading configuration")
	cfg, err := config.LoadClientConfig(configFile)
	if err != nil {
		return err
	}
	if clientEmail != "" {
		cfg.Email = clientEmail
	}
	if cfg.Email == "" {
		return errors.New("no email to log in with, set email in the config or pass --email")
	}

	cache, err := client.LoadSessionCache(cfg.SessionFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(cfg, client.Options{
		Cache: cache,
		OnStateChange: func(state client.State) {
			logger.Debug().Stringer("state", state).Msg("connection state changed")
		},
		OnExhausted: func() {
			logger.Error().Msg("server unreachable, restart the client to try again")
		},
	})
	defer c.Close()

	go printEvents(cmd.OutOrStdout(), c.Events(), logger)

	resp, err := c.Login(ctx, cfg.Email)
	if err != nil {
		return fmt.Errorf("login as %s: %w", cfg.Email, err)
	}
	event := logger.Info().Str("email", cfg.Email)
	if resp.User != nil {
		event = event.Str("name", strings.TrimSpace(resp.User.FirstName+" "+resp.User.LastName))
	}
	event.Msg("logged in")

	lines := make(chan string)
	go readLines(cmd.InOrStdin(), lines)

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("client stopped")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			sendLine(ctx, c, cfg.RequestTimeout, line, logger)
		}
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func sendLine(ctx context.Context, c *client.Client, timeout time.Duration, line string, logger zerolog.Logger) {
	recipient, message, ok := strings.Cut(strings.TrimSpace(line), " ")
	if !ok || strings.TrimSpace(message) == "" {
		if line != "" {
			logger.Warn().Msg("usage: <recipient email> <message>")
		}
		return
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := c.SendChatMessage(ctx, recipient, strings.TrimSpace(message)); err != nil {
		logger.Warn().Err(err).Str("to", recipient).Msg("message not delivered")
	}
}

func printEvents(w io.Writer, events <-chan protocol.Outbound, logger zerolog.Logger) {
	for event := range events {
		switch e := event.(type) {
		case protocol.ChatMessage:
			fmt.Fprintf(w, "[%s] %s: %s\n", e.SentAt.Local().Format(time.Kitchen), e.SenderEmail, e.Message)
		case protocol.PresenceEvent:
			fmt.Fprintf(w, "* %s is %s\n", e.Email, e.Status)
		case protocol.SessionEvicted:
			logger.Warn().Str("reason", e.Reason).Msg("session evicted")
		case protocol.ErrorResponse:
			logger.Warn().Str("type", string(e.ErrorType)).Msg(e.Error)
		}
	}
}
