package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pbertin/govirtus/enki"
	"github.com/pbertin/govirtus/internal/config"
	"github.com/pbertin/govirtus/oauth"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fatal("config", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tokens, err := oauth.NewManager(oauth.Config{
		Provider:     "enki",
		TokenURL:     cfg.Auth.TokenURL,
		ClientID:     cfg.Auth.ClientID,
		StatePath:    cfg.Auth.StatePath,
		ExpiryMargin: cfg.Auth.ExpiryMargin(),
	}, nil, zap.NewNop())
	if err != nil {
		fatal("credentials", err)
	}

	client, err := enki.NewClient(enki.Config{
		BaseURL:       cfg.Cloud.BaseURL,
		HomeID:        cfg.Cloud.HomeID,
		AircoAPIKey:   cfg.Cloud.AircoAPIKey,
		NodeAPIKey:    cfg.Cloud.NodeAPIKey,
		SensorsAPIKey: cfg.Cloud.SensorsAPIKey,
		Timeout:       cfg.Cloud.Timeout(),
	}, tokens)
	if err != nil {
		fatal("client", err)
	}

	switch os.Args[1] {
	case "login":
		loginCmd(ctx, tokens, os.Args[2:])
	case "state":
		stateCmd(ctx, client, os.Args[2:])
	case "set":
		setCmd(ctx, client, cfg, os.Args[2:])
	case "error":
		errorCmd(ctx, client, os.Args[2:])
	case "info":
		infoCmd(ctx, client, os.Args[2:])
	case "history":
		historyCmd(ctx, client, os.Args[2:])
	case "discover":
		discoverCmd(ctx, client)
	default:
		usage()
		os.Exit(2)
	}
}

func loginCmd(ctx context.Context, tokens *oauth.Manager, args []string) {
	if len(args) < 1 {
		fatal("login", fmt.Errorf("missing username"))
	}
	username := args[0]

	password := os.Getenv("GOVIRTUS_PASSWORD")
	if password == "" {
		fmt.Fprint(os.Stderr, "password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			fatal("read password", err)
		}
		password = strings.TrimSpace(line)
	}

	if err := tokens.Login(ctx, username, password); err != nil {
		fatal("login", err)
	}
	fmt.Println("logged in")
}

func stateCmd(ctx context.Context, client *enki.Client, args []string) {
	nodeID := requireNodeID("state", args)
	state, err := client.CheckState(ctx, nodeID)
	if err != nil {
		fatal("check state", err)
	}

	fmt.Printf("node: %s\n", state.NodeID)
	fmt.Printf("reported: %s\n", state.LastReportedDate.Format(time.RFC3339))
	fmt.Printf("power: %s\n", state.Power)
	fmt.Printf("mode: %s\n", state.OperatingMode)
	fmt.Printf("fan: %s\n", state.FanSpeed)
	fmt.Printf("target: %.1f\n", state.TargetTemperature)
	fmt.Printf("current: %.1f\n", state.CurrentTemperature)
	fmt.Printf("swing: %s/%s\n", state.SwingOrientation.Horizontal, state.SwingOrientation.Vertical)
	for _, mode := range []struct {
		name string
		on   bool
	}{
		{"quiet", state.QuietMode},
		{"sleep", state.SleepMode},
		{"health", state.HealthMode},
		{"self-clean", state.SelfCleanMode},
		{"frost-protection", state.FrostProtectionMode},
		{"defrost", state.DefrostMode},
	} {
		if mode.on {
			fmt.Printf("%s: on\n", mode.name)
		}
	}
}

func setCmd(ctx context.Context, client *enki.Client, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("set", flag.ExitOnError)
	power := fs.String("power", "", "ON or OFF")
	mode := fs.String("mode", "", "COOL, HEAT, FAN, DRY or AUTO")
	fan := fs.String("fan", "", "LOW, MEDIUM, HIGH or AUTO")
	temp := fs.Float64("temp", 0, "target temperature in celsius")
	swingH := fs.String("swing-h", "", "horizontal swing value")
	swingV := fs.String("swing-v", "", "vertical swing value")
	quiet := fs.String("quiet", "", "on or off")
	sleep := fs.String("sleep", "", "on or off")
	health := fs.String("health", "", "on or off")
	selfClean := fs.String("self-clean", "", "on or off")
	frost := fs.String("frost-protection", "", "on or off")

	if len(args) < 1 {
		fatal("set", fmt.Errorf("missing node id"))
	}
	nodeID := args[0]
	_ = fs.Parse(args[1:])

	var patch enki.Patch
	if *power != "" {
		v := enki.Power(strings.ToUpper(*power))
		patch.Power = &v
	}
	if *mode != "" {
		v := enki.OperatingMode(strings.ToUpper(*mode))
		patch.OperatingMode = &v
	}
	if *fan != "" {
		v := enki.FanSpeed(strings.ToUpper(*fan))
		patch.FanSpeed = &v
	}
	if hasFlag(fs, "temp") {
		patch.TargetTemperature = temp
	}
	if *swingH != "" || *swingV != "" {
		pair := enki.SwingOrientation{Horizontal: enki.SwingAuto, Vertical: enki.SwingAuto}
		if *swingH != "" {
			pair.Horizontal = enki.SwingAxisValue(strings.ToUpper(*swingH))
		}
		if *swingV != "" {
			pair.Vertical = enki.SwingAxisValue(strings.ToUpper(*swingV))
		}
		patch.SwingOrientation = &pair
	}
	patch.QuietMode = boolFlag("quiet", *quiet)
	patch.SleepMode = boolFlag("sleep", *sleep)
	patch.HealthMode = boolFlag("health", *health)
	patch.SelfCleanMode = boolFlag("self-clean", *selfClean)
	patch.FrostProtectionMode = boolFlag("frost-protection", *frost)

	domains := enki.DefaultDomains()
	domains.MinTemperature = cfg.Command.MinTemperature
	domains.MaxTemperature = cfg.Command.MaxTemperature
	for _, v := range cfg.Command.SwingValues {
		value := enki.SwingAxisValue(v)
		if value != enki.SwingAuto {
			domains.SwingValues = append(domains.SwingValues, value)
		}
	}
	if err := domains.Check(patch); err != nil {
		fatal("validate", err)
	}

	if err := client.ChangeState(ctx, nodeID, patch); err != nil {
		fatal("change state", err)
	}
	fmt.Println("accepted")
}

func errorCmd(ctx context.Context, client *enki.Client, args []string) {
	nodeID := requireNodeID("error", args)
	report, err := client.CheckError(ctx, nodeID)
	if err != nil {
		fatal("check error", err)
	}
	if report.Code == enki.ErrorCodeNone || report.Code == "" {
		fmt.Println("no fault reported")
		return
	}
	fmt.Printf("fault: %s (reported %s)\n", report.Code, report.LastReportedDate.Format(time.RFC3339))
}

func infoCmd(ctx context.Context, client *enki.Client, args []string) {
	nodeID := requireNodeID("info", args)
	info, err := client.NodeInfo(ctx, nodeID)
	if err != nil {
		fatal("node info", err)
	}
	fmt.Printf("node: %s\n", info.NodeID)
	fmt.Printf("device: %s\n", info.DeviceID)
	fmt.Printf("label: %s\n", info.Label)
	fmt.Printf("model: %s\n", info.ModelNumber)
	fmt.Printf("factory: %s\n", info.FactoryID)
}

func historyCmd(ctx context.Context, client *enki.Client, args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	period := fs.String("period", "DAILY", "DAILY, WEEKLY, MONTHLY or YEARLY")
	back := fs.Duration("back", 24*time.Hour, "how far back to start")

	if len(args) < 1 {
		fatal("history", fmt.Errorf("missing node id"))
	}
	nodeID := args[0]
	_ = fs.Parse(args[1:])

	samples, err := client.TemperatureHistory(ctx, nodeID, time.Now().Add(-*back), enki.TimePeriod(strings.ToUpper(*period)))
	if err != nil {
		fatal("history", err)
	}
	for _, sample := range samples {
		fmt.Printf("%s\t%.1f\n", sample.Date.Format(time.RFC3339), sample.Value)
	}
}

func discoverCmd(ctx context.Context, client *enki.Client) {
	nodes, err := client.Discover(ctx)
	if err != nil {
		fatal("discover", err)
	}
	for _, node := range nodes {
		fmt.Printf("%s\t%s\n", node.NodeID, node.Label)
	}
}

func requireNodeID(action string, args []string) string {
	if len(args) < 1 {
		fatal(action, fmt.Errorf("missing node id"))
	}
	return args[0]
}

func hasFlag(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func boolFlag(name, value string) *bool {
	switch strings.ToLower(value) {
	case "":
		return nil
	case "on", "true", "1":
		v := true
		return &v
	case "off", "false", "0":
		v := false
		return &v
	}
	fatal(name, fmt.Errorf("want on or off, got %q", value))
	return nil
}

func resolveConfigPath() string {
	if path := os.Getenv("GOVIRTUS_CONFIG"); path != "" {
		return path
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidate := home + "/.config/govirtus/config.yaml"
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return "/etc/govirtus/config.yaml"
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: govirtus-cli <command> [args]

commands:
  login <username>                authenticate and persist credentials
  state <node-id>                 show the last reported state
  set <node-id> [flags]           send a state change
  error <node-id>                 show the last reported fault code
  info <node-id>                  show device metadata
  history <node-id> [flags]       show ambient temperature history
  discover                        list air conditioners on the home

set flags: -power -mode -fan -temp -swing-h -swing-v
           -quiet -sleep -health -self-clean -frost-protection
history flags: -period -back

config path: $GOVIRTUS_CONFIG, ~/.config/govirtus/config.yaml,
or /etc/govirtus/config.yaml`)
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "govirtus-cli: %s: %v\n", action, err)
	os.Exit(1)
}
