package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/maphy9/mind-flow/internal/api"
	"github.com/maphy9/mind-flow/internal/chat"
	"github.com/maphy9/mind-flow/internal/config"
	"github.com/maphy9/mind-flow/internal/reminder"
	"github.com/maphy9/mind-flow/internal/storage"
)

// --- reminders ---

var remindersCmd = &cobra.Command{
	Use:     "reminders",
	Aliases: []string{"r"},
	Short:   "Manage reminders",
}

var remindersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reminders",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/reminders")
		if err != nil {
			return err
		}

		var reminders []api.ReminderView
		if err := decodeJSON(resp, &reminders); err != nil {
			return err
		}

		if len(reminders) == 0 {
			fmt.Fprintln(stdout, "No reminders yet.")
			return nil
		}
		for _, r := range reminders {
			printReminder(r)
		}
		return nil
	},
}

var remindersAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a reminder",
	Long: `Create a reminder.

Time expressions:
  07:30              every day at 07:30
  "today 18:00"      once, today at 18:00
  "in 20 minutes"    once, relative to now
  "after lunch 13:15" any text containing HH:mm is read as daily

Examples:
  mindflow reminders add "Drink water" --time 10:00
  mindflow reminders add "Call mom" --time "in 2 hours"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title := strings.Join(args, " ")
		at, _ := cmd.Flags().GetString("time")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/reminders", api.CreateReminderRequest{Title: title, Time: at})
		if err != nil {
			return err
		}

		var res reminder.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		printOutcome("Added", res.Reminder.Title, res.Outcome, res.Warnings, 0)
		fmt.Fprintln(stdout, res.Reminder.ID)
		return nil
	},
}

var remindersToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Enable or disable a reminder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/reminders/"+args[0]+"/toggle", nil)
		if err != nil {
			return err
		}

		var res reminder.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		verb := "Enabled"
		if !res.Reminder.Enabled {
			verb = "Disabled"
		}
		printOutcome(verb, res.Reminder.Title, res.Outcome, res.Warnings, res.CancelFailures)
		return nil
	},
}

var remindersRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Delete a reminder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete reminder %s. Use --confirm to proceed.", args[0])
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/reminders/"+args[0])
		if err != nil {
			return err
		}

		var res reminder.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		printOutcome("Removed", res.Reminder.Title, res.Outcome, res.Warnings, res.CancelFailures)
		return nil
	},
}

func init() {
	remindersAddCmd.Flags().String("time", "", "time expression (e.g. 07:30, \"today 18:00\", \"in 20 minutes\")")
	remindersRemoveCmd.Flags().Bool("confirm", false, "confirm deletion")
	remindersCmd.AddCommand(remindersListCmd)
	remindersCmd.AddCommand(remindersAddCmd)
	remindersCmd.AddCommand(remindersToggleCmd)
	remindersCmd.AddCommand(remindersRemoveCmd)
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the planning assistant",
}

var chatSendCmd = &cobra.Command{
	Use:   "send <text>",
	Short: "Send a message and show the reply with suggested actions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/chat/messages", api.SendMessageRequest{Text: strings.Join(args, " ")})
		if err != nil {
			return err
		}

		var msg chat.Message
		if err := decodeJSON(resp, &msg); err != nil {
			return err
		}

		printMessage(msg)
		if len(msg.Actions) > 0 {
			printStep("Check items with `mindflow chat toggle %s <n>`, then `mindflow chat commit %s`", msg.ID, msg.ID)
		}
		return nil
	},
}

var chatHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/chat/messages")
		if err != nil {
			return err
		}

		var msgs []chat.Message
		if err := decodeJSON(resp, &msgs); err != nil {
			return err
		}
		for _, m := range msgs {
			printMessage(m)
		}
		return nil
	},
}

var chatToggleCmd = &cobra.Command{
	Use:   "toggle <message-id> <index>",
	Short: "Check or uncheck a suggested action",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[1])
		if err != nil || index < 0 {
			return fmt.Errorf("index must be a non-negative integer, got %q", args[1])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), fmt.Sprintf("/chat/messages/%s/actions/%d/toggle", args[0], index), nil)
		if err != nil {
			return err
		}

		var res api.ToggleActionResponse
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%d %s\n", res.Index, checkbox(res.Checked))
		return nil
	},
}

var chatCommitCmd = &cobra.Command{
	Use:   "commit <message-id>",
	Short: "Turn the checked actions into reminders",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/chat/messages/"+args[0]+"/commit", nil)
		if err != nil {
			return err
		}

		var res chat.CommitResult
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		if len(res.Scheduled) == 0 && len(res.Failures) == 0 {
			printWarning("No checked actions to commit")
			return nil
		}
		for _, s := range res.Scheduled {
			printOutcome("Added", s.Reminder.Title, s.Outcome, s.Warnings, 0)
		}
		for _, f := range res.Failures {
			printError("Could not add %q: %s", f.Action.Text, f.Error)
		}
		if len(res.Remaining) > 0 {
			printStatus("Remaining", "%s", plural(len(res.Remaining), "suggestion"))
		}
		return nil
	},
}

func init() {
	chatCmd.AddCommand(chatSendCmd)
	chatCmd.AddCommand(chatHistoryCmd)
	chatCmd.AddCommand(chatToggleCmd)
	chatCmd.AddCommand(chatCommitCmd)
}

// --- notifications ---

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Notification permission and delivery history",
}

var notificationsPermissionCmd = &cobra.Command{
	Use:       "permission [grant|deny]",
	Short:     "Show or change notification permission",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"grant", "deny"},
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var st api.PermissionStatus
		if len(args) == 0 {
			resp, err := client.get(cmd.Context(), "/notifications/permission")
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, &st); err != nil {
				return err
			}
		} else {
			granted := args[0] == "grant"
			resp, err := client.put(cmd.Context(), "/notifications/permission", api.SetPermissionRequest{Granted: &granted})
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, &st); err != nil {
				return err
			}
		}

		switch {
		case !st.Asked:
			printStatus("Notifications", "not asked yet")
		case st.Granted:
			printStatus("Notifications", "%s", colorize(colorGreen, "granted"))
		default:
			printStatus("Notifications", "%s", colorize(colorRed, "denied"))
		}
		return nil
	},
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recently delivered notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/notifications/deliveries?limit=%d", limit))
		if err != nil {
			return err
		}

		var deliveries []storage.Delivery
		if err := decodeJSON(resp, &deliveries); err != nil {
			return err
		}
		if len(deliveries) == 0 {
			fmt.Fprintln(stdout, "No notifications delivered yet.")
			return nil
		}
		for _, d := range deliveries {
			fmt.Fprintf(stdout, "%s  %s  %s\n",
				colorize(colorDim, d.DeliveredAt.Local().Format("2006-01-02 15:04")),
				colorize(colorBold, d.Title),
				d.Body,
			)
		}
		return nil
	},
}

func init() {
	notificationsListCmd.Flags().Int("limit", 20, "maximum number of notifications to list")
	notificationsCmd.AddCommand(notificationsPermissionCmd)
	notificationsCmd.AddCommand(notificationsListCmd)
}

// --- parse ---

var parseCmd = &cobra.Command{
	Use:   "parse <expression>",
	Short: "Show how a time expression would be scheduled (offline)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		parsed := api.ParseTime(strings.Join(args, " "), timeNow())

		if asJSON {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(parsed)
		}

		switch parsed.Kind {
		case "daily":
			fmt.Fprintf(stdout, "Daily at %02d:%02d\n", *parsed.Hour, *parsed.Minute)
		case "once":
			when, err := time.Parse(time.RFC3339, parsed.When)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Once at %s\n", when.Format("2006-01-02 15:04"))
		default:
			fmt.Fprintln(stdout, "Not recognised; the reminder would be saved without a notification")
		}
		return nil
	},
}

var timeNow = time.Now

func init() {
	parseCmd.Flags().Bool("json", false, "print the parsed result as JSON")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 0 {
			return config.ValidKeys(), cobra.ShellCompDirectiveNoFileComp
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:       "unset <key>",
	Short:     "Reset a configuration value to its default",
	Args:      cobra.ExactArgs(1),
	ValidArgs: config.ValidKeys(),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
