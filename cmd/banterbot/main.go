package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stellarlinkco/banterbot/internal/bus"
	"github.com/stellarlinkco/banterbot/internal/config"
	"github.com/stellarlinkco/banterbot/internal/cron"
	"github.com/stellarlinkco/banterbot/internal/gateway"
	"github.com/stellarlinkco/banterbot/internal/llm"
	"github.com/stellarlinkco/banterbot/internal/logutil"
	"github.com/stellarlinkco/banterbot/internal/persona"
)

// AskOptions for running ask with custom dependencies
type AskOptions struct {
	LLM    llm.Client
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

var rootCmd = &cobra.Command{
	Use:           "banterbot",
	Short:         "banterbot - Telegram persona chat bot",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot (Telegram polling + scheduler)",
	RunE:  runGateway,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the effective configuration",
	RunE:  runStatus,
}

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Answer one message (or a REPL) as the bot would, without Telegram",
	RunE:  runAsk,
}

var (
	envFile     string
	messageFlag string
	asFlag      string
	nameFlag    string
	privateFlag bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")
	askCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to answer")
	askCmd.Flags().StringVar(&asFlag, "as", "other", "Sender role: primary, secondary or other")
	askCmd.Flags().StringVar(&nameFlag, "name", "", "Sender display name")
	askCmd.Flags().BoolVar(&privateFlag, "private", false, "Send as a private chat instead of the target group")
	rootCmd.AddCommand(runCmd, statusCmd, askCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	log, err := logutil.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.LLMEnabled() {
		log.Warn().Msg("LLM_API_KEY not set, every reply will use fallback text")
	}
	if !cfg.WeatherEnabled() {
		log.Info().Msg("weather not configured, weather clauses are omitted")
	}

	gw, err := gateway.New(cfg, log)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	return gw.Run(cmd.Context())
}

func runAsk(cmd *cobra.Command, args []string) error {
	return runAskWithOptions(cmd.Context(), AskOptions{})
}

// runAskWithOptions runs ask with injectable dependencies for testing
func runAskWithOptions(ctx context.Context, opts AskOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	agent, err := gateway.NewAgent(cfg, gateway.AgentOptions{LLM: opts.LLM, Logger: log})
	if err != nil {
		return err
	}
	template, err := askMessage(cfg, asFlag, nameFlag, privateFlag)
	if err != nil {
		return err
	}

	answer := func(text string) {
		msg := template
		msg.Text = text
		if strings.HasPrefix(text, "/") {
			msg.Command = strings.ToLower(strings.TrimPrefix(strings.Fields(text)[0], "/"))
		}
		out, ok := agent.Respond(ctx, msg, log)
		if !ok {
			fmt.Fprintf(stdout, "(no reply: %s)\n", agent.Resolver().Resolve(msg))
			return
		}
		fmt.Fprintln(stdout, out.Content)
	}

	// Single message mode
	if messageFlag != "" {
		answer(messageFlag)
		return nil
	}

	// REPL mode
	fmt.Fprintf(stdout, "banterbot ask as %s (type 'exit' to quit)\n", asFlag)
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		answer(input)
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return nil
}

// askMessage builds the inbound message the CLI impersonates.
func askMessage(cfg *config.Config, role, name string, private bool) (bus.InboundMessage, error) {
	msg := bus.InboundMessage{
		Channel:   "cli",
		ChatID:    cfg.Telegram.TargetChatID,
		ChatKind:  bus.ChatGroup,
		MessageID: 1,
	}
	if msg.ChatID == 0 {
		msg.ChatID = -1
	}
	if private {
		msg.ChatKind = bus.ChatPrivate
		msg.ChatID = 1
	}

	switch strings.ToLower(role) {
	case "primary":
		if cfg.Identities.PrimaryID == 0 {
			return msg, fmt.Errorf("PRIMARY_SUBJECT_ID is not set")
		}
		msg.SenderID = cfg.Identities.PrimaryID
		msg.SenderName = cfg.Identities.PrimaryName
	case "secondary":
		if len(cfg.Identities.SecondaryIDs) == 0 {
			return msg, fmt.Errorf("SECONDARY_IDS is not set")
		}
		msg.SenderID = cfg.Identities.SecondaryIDs[0]
		msg.SenderName = "supporter"
	case "other", "":
		msg.SenderName = "guest"
	default:
		return msg, fmt.Errorf("unknown role %q, want primary, secondary or other", role)
	}
	if name != "" {
		msg.SenderName = name
	}
	return msg, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Bot token: %s\n", mask(cfg.Telegram.Token))
	fmt.Fprintf(out, "Target chat: %s\n", chatDisplay(cfg.Telegram.TargetChatID))
	fmt.Fprintf(out, "Admin chat: %s\n", chatDisplay(cfg.Telegram.AdminChatID))
	fmt.Fprintf(out, "Timezone: %s\n", orDefault(cfg.Timezone, config.DefaultTimezone))
	fmt.Fprintf(out, "Primary subject: %d %s\n", cfg.Identities.PrimaryID, cfg.Identities.PrimaryName)
	fmt.Fprintf(out, "Secondary ids: %v (content gate=%v)\n", cfg.Identities.SecondaryIDs, cfg.Identities.SecondaryGate)
	fmt.Fprintf(out, "LLM: %s %s, key %s\n", cfg.LLM.Provider, cfg.LLM.Model, mask(cfg.LLM.APIKey))
	if cfg.WeatherEnabled() {
		fmt.Fprintf(out, "Weather: %s\n", cfg.Weather.Location)
	} else {
		fmt.Fprintln(out, "Weather: disabled")
	}
	fmt.Fprintf(out, "Quiet hours: %02d:00-%02d:00\n", cfg.Schedule.NightStartHour, cfg.Schedule.NightEndHour)

	if p, err := persona.Load(cfg.PersonaFile); err != nil {
		fmt.Fprintf(out, "Persona: error (%v)\n", err)
	} else {
		fmt.Fprintf(out, "Persona: %s\n", p.Name)
	}

	jobs, err := cron.DefaultJobs(cfg.Schedule)
	if err != nil {
		fmt.Fprintf(out, "Schedule: error (%v)\n", err)
	} else {
		fmt.Fprintln(out, "Schedule:")
		for _, j := range jobs {
			fmt.Fprintf(out, "  %s\n", j)
		}
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "Status: not ready (%v)\n", err)
	} else {
		fmt.Fprintln(out, "Status: ready")
	}
	return nil
}

func mask(secret string) string {
	switch {
	case secret == "":
		return "not set"
	case len(secret) > 8:
		return secret[:4] + "..." + secret[len(secret)-4:]
	default:
		return "set"
	}
}

func chatDisplay(id int64) string {
	if id == 0 {
		return "not set"
	}
	return fmt.Sprint(id)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
