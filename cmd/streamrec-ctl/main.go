// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/qingrang/stream-rec/internal/config"
	"github.com/qingrang/stream-rec/internal/menu"
	"github.com/qingrang/stream-rec/internal/model"
	"github.com/qingrang/stream-rec/internal/updater"
)

// Version information (set via ldflags during build).
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

const (
	exitSuccess = 0
	exitError   = 1
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
	os.Exit(exitSuccess)
}

// run is the main entry point, extracted for testability.
func run(args []string) error {
	if len(args) == 0 {
		return runHelp()
	}

	command := args[0]
	commandArgs := args[1:]

	switch command {
	case "help", "--help", "-h":
		return runHelp()
	case "version", "--version", "-v":
		return runVersion()
	case "broadcaster":
		return runBroadcaster(commandArgs)
	case "validate":
		return runValidate(commandArgs)
	case "status":
		return runStatus(commandArgs)
	case "config":
		return runConfigCmd(commandArgs)
	case "update":
		return runUpdate(commandArgs)
	case "menu":
		return runMenu(commandArgs)
	default:
		return fmt.Errorf("unknown command: %s (run 'streamrec-ctl help' for usage)", command)
	}
}

func runHelp() error {
	fmt.Printf(`streamrec-ctl v%s

USAGE:
    streamrec-ctl [COMMAND] [OPTIONS]

COMMANDS:
    help                        Show this help message
    version                     Show version information
    broadcaster list            List configured broadcasters
    broadcaster add ID          Add a broadcaster
    broadcaster enable ID       Activate a broadcaster
    broadcaster disable ID      Deactivate a broadcaster
    broadcaster remove ID       Remove a broadcaster
    validate                    Validate configuration file
    status                      Show daemon service status (systemctl is-active)
    config backup               Back up the configuration file
    update                      Check for and install updates
    menu                        Launch interactive management menu

OPTIONS:
    --config PATH     Path to configuration file (default: %s)
    --platform NAME   Platform tag for 'broadcaster add' (HUYA or DOUYIN)
    --url URL         Stream URL for 'broadcaster add'
    --json            Emit machine-readable JSON where supported

EXAMPLES:
    # List configured broadcasters
    streamrec-ctl broadcaster list

    # Add a broadcaster
    streamrec-ctl broadcaster add alice --platform=HUYA --url=https://huya.com/alice

    # Disable a broadcaster without removing it
    streamrec-ctl broadcaster disable alice

    # Validate configuration
    streamrec-ctl validate --config=/etc/streamrec/config.yaml

    # Back up the current configuration
    streamrec-ctl config backup

    # Check for updates
    streamrec-ctl update --check

For more information, see the project repository.
`, Version, config.ConfigFilePath)
	return nil
}

func runVersion() error {
	fmt.Printf("streamrec-ctl\n")
	fmt.Printf("  Version:    %s\n", Version)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
	fmt.Printf("  Built:      %s\n", BuildDate)
	return nil
}

// configFlagValue extracts --config=PATH or --config PATH from args,
// defaulting to config.ConfigFilePath, and returns the remaining args.
func configFlagValue(args []string) (string, []string) {
	path := config.ConfigFilePath
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch {
		case strings.HasPrefix(args[i], "--config="):
			path = strings.TrimPrefix(args[i], "--config=")
		case args[i] == "--config" && i+1 < len(args):
			path = args[i+1]
			i++
		default:
			rest = append(rest, args[i])
		}
	}
	return path, rest
}

// loadEditableConfig loads path, falling back to an empty default
// configuration when the file does not yet exist, so a first
// 'broadcaster add' on a fresh host doesn't require pre-seeding a file.
func loadEditableConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

func saveEditableConfig(cfg *config.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil { //nolint:gosec // config dir needs group read
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return cfg.Save(path)
}

// runBroadcaster dispatches the broadcaster management subcommands.
func runBroadcaster(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("broadcaster: missing subcommand (list|add|enable|disable|remove)")
	}

	sub := args[0]
	rest := args[1:]
	configPath, rest := configFlagValue(rest)

	cfg, err := loadEditableConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch sub {
	case "list":
		return broadcasterList(cfg, rest)
	case "add":
		return broadcasterAdd(cfg, configPath, rest)
	case "enable":
		return broadcasterSetActivated(cfg, configPath, rest, true)
	case "disable":
		return broadcasterSetActivated(cfg, configPath, rest, false)
	case "remove":
		return broadcasterRemove(cfg, configPath, rest)
	default:
		return fmt.Errorf("broadcaster: unknown subcommand %q", sub)
	}
}

func broadcasterList(cfg *config.Config, args []string) error {
	jsonOutput := false
	for _, a := range args {
		if a == "--json" {
			jsonOutput = true
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg.Streamers)
	}

	if len(cfg.Streamers) == 0 {
		fmt.Println("No broadcasters configured.")
		return nil
	}

	fmt.Printf("%-20s %-10s %-10s %s\n", "ID", "PLATFORM", "ACTIVATED", "URL")
	for _, b := range cfg.Streamers {
		activated := "no"
		if b.Activated {
			activated = "yes"
		}
		fmt.Printf("%-20s %-10s %-10s %s\n", b.ID, b.Platform, activated, b.URL)
	}
	return nil
}

func broadcasterAdd(cfg *config.Config, configPath string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("broadcaster add: missing ID")
	}
	id := args[0]

	platform := ""
	url := ""
	for i := 1; i < len(args); i++ {
		switch {
		case strings.HasPrefix(args[i], "--platform="):
			platform = strings.TrimPrefix(args[i], "--platform=")
		case strings.HasPrefix(args[i], "--url="):
			url = strings.TrimPrefix(args[i], "--url=")
		}
	}
	if platform == "" {
		return fmt.Errorf("broadcaster add: --platform is required")
	}
	if url == "" {
		return fmt.Errorf("broadcaster add: --url is required")
	}

	for _, b := range cfg.Streamers {
		if b.ID == id {
			return fmt.Errorf("broadcaster %q already exists", id)
		}
	}

	cfg.Streamers = append(cfg.Streamers, model.Broadcaster{
		ID:        id,
		Platform:  model.Platform(strings.ToUpper(platform)),
		URL:       url,
		Activated: true,
	})

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("resulting configuration is invalid: %w", err)
	}
	if err := saveEditableConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("Added broadcaster %q (%s)\n", id, platform)
	return nil
}

func broadcasterSetActivated(cfg *config.Config, configPath string, args []string, activated bool) error {
	if len(args) == 0 {
		return fmt.Errorf("broadcaster: missing ID")
	}
	id := args[0]

	found := false
	for i := range cfg.Streamers {
		if cfg.Streamers[i].ID == id {
			cfg.Streamers[i].Activated = activated
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("broadcaster %q not found", id)
	}

	if err := saveEditableConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	state := "disabled"
	if activated {
		state = "enabled"
	}
	fmt.Printf("Broadcaster %q %s\n", id, state)
	return nil
}

func broadcasterRemove(cfg *config.Config, configPath string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("broadcaster remove: missing ID")
	}
	id := args[0]

	idx := -1
	for i, b := range cfg.Streamers {
		if b.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("broadcaster %q not found", id)
	}

	cfg.Streamers = append(cfg.Streamers[:idx], cfg.Streamers[idx+1:]...)

	if err := saveEditableConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("Removed broadcaster %q\n", id)
	return nil
}

// runValidate validates a configuration file.
func runValidate(args []string) error {
	configPath, _ := configFlagValue(args)

	fmt.Printf("Validating configuration: %s\n\n", configPath)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("Configured broadcasters: %d (%d activated)\n", len(cfg.Streamers), len(cfg.ActivatedStreamers()))
	return nil
}

// runStatus queries the running daemon's systemd unit and prints a
// brief summary. It does not query /healthz directly, matching the
// offline-friendly posture of the rest of streamrec-ctl's commands.
func runStatus(args []string) error {
	jsonOutput := false
	for _, a := range args {
		if a == "--json" {
			jsonOutput = true
		}
	}

	status := getServiceStatus("streamrec")

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{"service_status": status})
	}

	fmt.Printf("Service: %s\n", status)
	return nil
}

func getServiceStatus(serviceName string) string {
	cmd := exec.Command("systemctl", "is-active", serviceName) // #nosec G204 -- serviceName is a controlled constant, not user input
	output, err := cmd.Output()
	if err != nil {
		return "not running (or systemd unavailable)"
	}

	switch strings.TrimSpace(string(output)) {
	case "active":
		return "active (running)"
	case "inactive":
		return "inactive (stopped)"
	case "failed":
		return "failed"
	default:
		return strings.TrimSpace(string(output))
	}
}

// runConfigCmd dispatches configuration-file maintenance subcommands.
func runConfigCmd(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("config: missing subcommand (backup)")
	}

	sub := args[0]
	rest := args[1:]
	configPath, rest := configFlagValue(rest)

	switch sub {
	case "backup":
		return runConfigBackup(configPath, rest)
	default:
		return fmt.Errorf("config: unknown subcommand %q", sub)
	}
}

func runConfigBackup(configPath string, args []string) error {
	backupDir := config.GetBackupDir(configPath)
	for _, a := range args {
		if strings.HasPrefix(a, "--backup-dir=") {
			backupDir = strings.TrimPrefix(a, "--backup-dir=")
		}
	}

	path, err := config.BackupConfig(configPath, backupDir)
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	fmt.Printf("Backed up %s to %s\n", configPath, path)
	return nil
}

// runUpdate checks for and installs updates.
func runUpdate(args []string) error {
	checkOnly := false
	force := false
	for _, arg := range args {
		switch arg {
		case "--check":
			checkOnly = true
		case "--force":
			force = true
		}
	}

	fmt.Println("streamrec-ctl Update")
	fmt.Println("====================")
	fmt.Println()

	u := updater.New(
		updater.WithOwner(updater.DefaultOwner),
		updater.WithRepo(updater.DefaultRepo),
		updater.WithCurrentVersion(Version),
	)

	ctx := context.Background()

	fmt.Println("Checking for updates...")
	info, err := u.CheckForUpdates(ctx)
	if err != nil {
		return fmt.Errorf("failed to check for updates: %w", err)
	}

	fmt.Println(updater.FormatUpdateInfo(info))

	if !info.UpdateAvailable {
		return nil
	}
	if checkOnly {
		fmt.Println("\nRun 'streamrec-ctl update' without --check to install the update.")
		return nil
	}

	if !force {
		fmt.Print("Download and install update? [y/N]: ")
		var response string
		_, _ = fmt.Scanln(&response)
		if strings.ToLower(response) != "y" {
			fmt.Println("Update cancelled.")
			return nil
		}
	}

	binaryPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to determine binary path: %w", err)
	}
	binaryPath, err = filepath.EvalSymlinks(binaryPath)
	if err != nil {
		return fmt.Errorf("failed to resolve binary path: %w", err)
	}

	if strings.HasPrefix(binaryPath, "/usr/") && os.Geteuid() != 0 {
		return fmt.Errorf("update requires root privileges for %s (run with sudo)", binaryPath)
	}

	fmt.Println()
	fmt.Println("Downloading update...")

	lastPercent := 0
	progress := func(downloaded, total int64) {
		if total > 0 {
			percent := int(float64(downloaded) / float64(total) * 100)
			if percent > lastPercent+5 || percent == 100 {
				fmt.Printf("\rProgress: %d%%", percent)
				lastPercent = percent
			}
		}
	}

	if err := u.Update(ctx, info, binaryPath, progress); err != nil {
		fmt.Println()
		if u.HasBackup(binaryPath) {
			fmt.Println("Update failed. Rolling back...")
			if rbErr := u.Rollback(binaryPath); rbErr != nil {
				return fmt.Errorf("update failed (%w) and rollback failed (%w)", err, rbErr)
			}
			fmt.Println("Rolled back to previous version.")
		}
		return fmt.Errorf("update failed: %w", err)
	}

	fmt.Println()
	fmt.Printf("Successfully updated to %s!\n", info.LatestVersion)
	fmt.Println("Restart streamrec to use the new version.")
	return nil
}

// runMenu launches the interactive management menu.
func runMenu(args []string) error {
	m := menu.CreateMainMenu()
	return m.Display()
}
