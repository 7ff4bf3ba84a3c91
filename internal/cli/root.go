package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// RootOptions holds the flags shared by every alertctl command.
type RootOptions struct {
	Via         string
	Brokers     []string
	Topic       string
	URL         string
	InternalKey string
	Timeout     time.Duration
}

var validTransports = []string{"kafka", "http"}

// NewRootCommand builds the alertctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "alertctl",
		Short: "Publish and watch relief alerts",
		Long:  "alertctl publishes domain events to the alert service over Kafka or HTTP and follows live alerts.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.Via = strings.ToLower(strings.TrimSpace(opts.Via))
			for _, v := range validTransports {
				if v == opts.Via {
					return nil
				}
			}
			return fmt.Errorf("invalid --via %q: must be one of %v", opts.Via, validTransports)
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Via, "via", "http", "transport used to publish (kafka|http)")
	cmd.PersistentFlags().StringSliceVar(&opts.Brokers, "brokers", splitEnv("KAFKA_BROKERS"), "kafka brokers")
	cmd.PersistentFlags().StringVar(&opts.Topic, "topic", envOr("KAFKA_TOPIC", "relief.events"), "kafka topic")
	cmd.PersistentFlags().StringVar(&opts.URL, "url", envOr("ALERTS_URL", "http://localhost:8081"), "alert service base URL")
	cmd.PersistentFlags().StringVar(&opts.InternalKey, "internal-key", os.Getenv("INTERNAL_API_KEY"), "internal API key for POST /api/events")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "request timeout")

	cmd.AddCommand(NewPublishCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func splitEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
