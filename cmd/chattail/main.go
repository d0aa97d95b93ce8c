// Command chattail follows a channel of a chat server from the terminal.
package main

import (
	"chatcord-backend/internal/feed"
	"chatcord-backend/internal/models"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	baseURL string
	token   string
	limit   int
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:          "chattail",
	Short:        "Follow a chat server from the terminal",
	SilenceUsage: true,
}

var channelCmd = &cobra.Command{
	Use:   "channel <id>",
	Short: "Print the latest messages of a channel and then new ones as they arrive",
	Args:  cobra.ExactArgs(1),
	RunE:  runChannel,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "http://localhost:3000", "base URL of the chat server")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("CHAT_TOKEN"), "session token of the auth provider")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log reconnects")
	channelCmd.Flags().IntVarP(&limit, "limit", "n", 50, "messages to load first")

	rootCmd.AddCommand(channelCmd)
}

func runChannel(cmd *cobra.Command, args []string) error {
	channelID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid channel ID %q", args[0])
	}
	if token == "" {
		return fmt.Errorf("a token is required, pass --token or set CHAT_TOKEN")
	}

	sugar := zap.NewNop().Sugar()
	if verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		sugar = logger.Sugar()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := feed.NewClient(baseURL, token, sugar)
	if err != nil {
		return err
	}

	printed := make(map[int64]bool)
	out := cmd.OutOrStdout()

	messages := client.ChannelMessages(ctx, channelID, limit, func(list []models.Message) {
		for _, m := range list {
			if printed[m.ID] {
				continue
			}
			printed[m.ID] = true

			author := m.UserID
			if m.User != nil {
				author = m.User.Username
			}
			fmt.Fprintf(out, "%s %s: %s\n", m.CreatedAt.Local().Format("15:04"), author, m.Content)
		}
	})
	defer messages.Close()

	select {
	case <-ctx.Done():
		return nil
	case <-messages.Dead():
		return messages.Err()
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
