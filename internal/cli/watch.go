package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"reliefWs/internal/modules/alerts/client"
	"reliefWs/internal/modules/alerts/domain"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Token  string
	UserID string
	Role   string
	City   string
	State  string
}

// NewWatchCommand follows live alerts the way the web client does: it joins its rooms, merges the
// durable inbox on every reconnect and prints each change.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live alerts",
		Long: `Follow live alerts as a user or as an anonymous subscriber.

Without --user the command joins the public notification room.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer token")
	cmd.Flags().StringVar(&opts.UserID, "user", "", "user id matching the token")
	cmd.Flags().StringVar(&opts.Role, "role", "user", "user|volunteer|admin")
	cmd.Flags().StringVar(&opts.City, "city", "", "city of the user")
	cmd.Flags().StringVar(&opts.State, "state", "", "state of the user")

	return cmd
}

func (o *WatchOptions) identity() domain.Identity {
	if strings.TrimSpace(o.UserID) == "" {
		return domain.Identity{NotificationsEnabled: true}
	}
	return domain.Identity{
		UserID:   strings.TrimSpace(o.UserID),
		Role:     domain.ParseRole(o.Role),
		Location: domain.Location{City: strings.TrimSpace(o.City), State: strings.TrimSpace(o.State)},
	}
}

func wsURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return base + "/ws"
	}
}

func runWatch(ctx context.Context, opts *WatchOptions, out io.Writer) error {
	session := client.NewSession(wsURL(opts.URL), opts.Token)
	api := client.NewHTTPNotificationAPI(opts.URL, opts.Token, opts.Timeout, nil)

	var (
		mu      sync.Mutex
		printed = make(map[string]struct{})
		rec     *client.Reconciler
	)
	rec = client.NewReconciler(opts.identity(), api, session, client.WithOnChange(func() {
		mu.Lock()
		defer mu.Unlock()
		for _, n := range rec.Notifications() {
			if _, seen := printed[n.ID]; seen {
				continue
			}
			printed[n.ID] = struct{}{}
			fmt.Fprintf(out, "%s [%s] %s\n", n.CreatedAt.Local().Format("15:04:05"), n.Type, n.Message)
		}
	}))
	session.On("*", func(msg domain.Message) {
		if strings.HasPrefix(msg.Event, "system.") {
			fmt.Fprintf(out, "-- %s (state %s, unread %d)\n", msg.Event, rec.State(), rec.UnreadCount())
		}
	})
	return session.Run(ctx, rec)
}
