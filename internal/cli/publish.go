package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"reliefWs/internal/modules/alerts/domain"
)

const cliOrigin = "alertctl"

// payloadBuilder registers its flags on cmd and returns a constructor evaluated at run time.
type payloadBuilder func(cmd *cobra.Command) func() domain.Payload

// NewPublishCommand groups one subcommand per event kind.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a domain event",
		Long: `Publish a domain event to the alert service.

Examples:
  alertctl publish disaster --type flood --severity critical --city Pune --state MH
  alertctl publish points --user u-42 --earned 10 --total 120 --via kafka --brokers localhost:9092`,
	}

	cmd.AddCommand(
		newKindCommand(rootOpts, "disaster", "Announce a disaster at a location", disasterPayload),
		newKindCommand(rootOpts, "broadcast", "Send an admin broadcast to everyone", broadcastPayload),
		newKindCommand(rootOpts, "emergency", "Send an emergency message to everyone", emergencyPayload),
		newKindCommand(rootOpts, "severity", "Send a severity notification to everyone", severityPayload),
		newKindCommand(rootOpts, "points", "Tell a user their points changed", pointsPayload),
		newKindCommand(rootOpts, "opportunity", "Offer a volunteer help opportunity", opportunityPayload),
		newKindCommand(rootOpts, "crpf", "Alert administrators to a CRPF request", crpfPayload),
	)
	return cmd
}

func newKindCommand(rootOpts *RootOptions, use, short string, build payloadBuilder) *cobra.Command {
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	payload := build(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ev := domain.NewEvent(payload(), cliOrigin, time.Now())
		if err := ev.Validate(); err != nil {
			return err
		}
		sender, err := newSender(rootOpts)
		if err != nil {
			return err
		}
		defer sender.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout(rootOpts))
		defer cancel()
		summary, err := sender.Send(ctx, ev)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), summary)
		return nil
	}
	return cmd
}

func disasterPayload(cmd *cobra.Command) func() domain.Payload {
	var p domain.DisasterAlert
	var severity string
	f := cmd.Flags()
	f.StringVar(&p.DisasterID, "disaster-id", "", "disaster id")
	f.StringVar(&p.Type, "type", "", "disaster type (flood, fire, earthquake...)")
	f.StringVar(&severity, "severity", "medium", "low|medium|high|critical|extreme")
	f.StringVar(&p.Location.City, "city", "", "city")
	f.StringVar(&p.Location.State, "state", "", "state")
	f.StringVar(&p.Message, "message", "", "message")
	f.BoolVar(&p.Predicted, "predicted", false, "mark the disaster as predicted")
	return func() domain.Payload {
		p.Severity = domain.Severity(severity)
		p.Source = cliOrigin
		return p
	}
}

func broadcastPayload(cmd *cobra.Command) func() domain.Payload {
	var p domain.AdminBroadcast
	f := cmd.Flags()
	f.StringVar(&p.Message, "message", "", "message")
	f.StringVar(&p.Type, "type", "", "broadcast type")
	f.StringVar(&p.AdminName, "admin", "", "sender name")
	return func() domain.Payload { return p }
}

func emergencyPayload(cmd *cobra.Command) func() domain.Payload {
	var p domain.Emergency
	var severity string
	f := cmd.Flags()
	f.StringVar(&p.Message, "message", "", "message")
	f.StringVar(&severity, "severity", "extreme", "low|medium|high|critical|extreme")
	f.StringVar(&p.AdminName, "admin", "", "sender name")
	return func() domain.Payload {
		p.Severity = domain.Severity(severity)
		return p
	}
}

func severityPayload(cmd *cobra.Command) func() domain.Payload {
	var p domain.SeverityNotification
	var severity string
	f := cmd.Flags()
	f.StringVar(&p.Title, "title", "", "title")
	f.StringVar(&p.Message, "message", "", "message")
	f.StringVar(&severity, "severity", "", "low|medium|high|critical|extreme")
	f.StringVar(&p.AdminName, "admin", "", "sender name")
	return func() domain.Payload {
		p.Severity = domain.Severity(severity)
		return p
	}
}

func pointsPayload(cmd *cobra.Command) func() domain.Payload {
	var p domain.PointsUpdate
	f := cmd.Flags()
	f.StringVar(&p.UserID, "user", "", "user id")
	f.IntVar(&p.PointsEarned, "earned", 0, "points earned")
	f.IntVar(&p.NewPoints, "total", 0, "new point total")
	return func() domain.Payload { return p }
}

func opportunityPayload(cmd *cobra.Command) func() domain.Payload {
	var p domain.VolunteerOpportunity
	var severity string
	f := cmd.Flags()
	f.StringVar(&p.UserID, "user", "", "volunteer user id (omit to reach the location)")
	f.StringVar(&p.DisasterID, "disaster-id", "", "disaster id")
	f.StringVar(&p.Type, "type", "", "disaster type")
	f.StringVar(&severity, "severity", "medium", "low|medium|high|critical|extreme")
	f.StringVar(&p.Location.City, "city", "", "city")
	f.StringVar(&p.Location.State, "state", "", "state")
	f.StringVar(&p.Message, "message", "", "message")
	return func() domain.Payload {
		p.Severity = domain.Severity(severity)
		return p
	}
}

func crpfPayload(cmd *cobra.Command) func() domain.Payload {
	var p domain.CrpfAlert
	var priority string
	f := cmd.Flags()
	f.StringVar(&p.DisasterID, "disaster-id", "", "disaster id")
	f.StringVar(&p.Title, "title", "", "title")
	f.StringVar(&p.Message, "message", "", "message")
	f.StringVar(&priority, "priority", "medium", "low|medium|high")
	f.StringVar(&p.AdminName, "admin", "", "requesting admin")
	return func() domain.Payload {
		p.Priority = domain.Priority(priority)
		return p
	}
}
