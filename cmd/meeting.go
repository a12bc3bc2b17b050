package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/wasl-gate/internal/broker"
	"github.com/kozaktomas/wasl-gate/internal/config"
)

var meetingCmd = &cobra.Command{
	Use:   "meeting",
	Short: "Create, join and end meetings through the meeting broker",
}

var meetingCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a meeting and print the host's participant token",
	Long: `Create a new meeting through the meeting broker and print its ID and the
participant token for the given display name.

Examples:
  wasl-gate meeting create "Amal"
  wasl-gate meeting create "Amal" --title "Family visit" --json`,
	Args: cobra.ExactArgs(1),
	RunE: runMeetingCreate,
}

var meetingJoinCmd = &cobra.Command{
	Use:   "join <name> <meeting-id>",
	Short: "Request a participant token for an existing meeting",
	Args:  cobra.ExactArgs(2),
	RunE:  runMeetingJoin,
}

var meetingEndCmd = &cobra.Command{
	Use:   "end <session-id>",
	Short: "Tell the broker a session is over",
	Args:  cobra.ExactArgs(1),
	RunE:  runMeetingEnd,
}

func init() {
	rootCmd.AddCommand(meetingCmd)
	meetingCmd.AddCommand(meetingCreateCmd, meetingJoinCmd, meetingEndCmd)

	meetingCreateCmd.Flags().String("title", broker.DefaultTitle, "Meeting title")
	meetingCreateCmd.Flags().Bool("json", false, "Output as JSON")
	meetingJoinCmd.Flags().Bool("json", false, "Output as JSON")
}

func newBrokerClient() (*broker.Client, error) {
	cfg := config.Load()
	c, err := broker.NewClient(cfg.Broker.URL)
	if err != nil {
		return nil, fmt.Errorf("meeting broker: %w", err)
	}
	return c, nil
}

func printGrant(cmd *cobra.Command, grant *broker.Grant) error {
	if mustGetBool(cmd, "json") {
		return printJSON(grant)
	}
	fmt.Printf("Meeting ID: %s\n", grant.MeetingID)
	fmt.Printf("Token:      %s\n", grant.AuthToken)
	return nil
}

func runMeetingCreate(cmd *cobra.Command, args []string) error {
	c, err := newBrokerClient()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	grant, err := c.CreateMeeting(ctx, args[0], mustGetString(cmd, "title"))
	if err != nil {
		return err
	}
	return printGrant(cmd, grant)
}

func runMeetingJoin(cmd *cobra.Command, args []string) error {
	c, err := newBrokerClient()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	grant, err := c.JoinMeeting(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return printGrant(cmd, grant)
}

func runMeetingEnd(cmd *cobra.Command, args []string) error {
	c, err := newBrokerClient()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	if err := c.EndSession(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Session %s ended\n", args[0])
	return nil
}
