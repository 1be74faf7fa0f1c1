// Kioskcall — CLI entry point.
//
// This tool runs the kiosk's call core outside the kiosk shell: it joins a
// room on the signaling server as operator or client, drives the call
// lifecycle, and prints every host-bridge event to the terminal. Commands
// (accept / reject / hangup) are read from stdin.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -room, -url, -token).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/visiontec/kioskcall/internal/call"
	"github.com/visiontec/kioskcall/internal/config"
	"github.com/visiontec/kioskcall/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	// CLI flags override the config file.
	roleFlag := flag.String("role", cfg.Role, "Role: operator or client")
	roomFlag := flag.String("room", cfg.Room, "Room identifier")
	urlFlag := flag.String("url", cfg.SignalURL, "Signaling server URL (ws:// or wss://)")
	tokenFlag := flag.String("token", cfg.Token, "Join token")
	debugMode := flag.Bool("debug", cfg.Debug, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Kioskcall — v%s", version))
	pterm.Println()

	role, err := call.ParseRole(*roleFlag)
	if err != nil && *roleFlag != "" {
		util.LogError("invalid -role: must be 'operator' or 'client'")
		os.Exit(1)
	}
	if *roleFlag == "" {
		role = askRole()
	}

	room := *roomFlag
	if room == "" {
		room = askText("Room identifier")
	}
	wsURL := *urlFlag
	if wsURL == "" {
		wsURL = askText("Signaling server URL (e.g. wss://calls.example.com/ws)")
	}

	sess := call.NewSession(call.Config{
		Role:            role,
		Bridge:          &consoleBridge{role: role},
		STUNServers:     cfg.STUNServers,
		SecureContext:   cfg.SecureContext,
		IdleRevertDelay: cfg.IdleRevertDelay,
		RingTimeout:     cfg.RingTimeout,
	})

	util.StartStatsReporter(ctx)
	go readCommands(ctx, sess)

	sess.Join(call.JoinParams{Room: room, URL: wsURL, Token: *tokenFlag})

	if err := sess.Run(ctx); err != nil {
		util.LogError("session ended: %v", err)
		os.Exit(1)
	}
	util.LogInfo("session closed")
}

// readCommands forwards stdin lines to the session as host commands.
// Unknown commands are passed through; the core treats them as a no-op.
func readCommands(ctx context.Context, sess *call.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(strings.ToLower(scanner.Text()))
		switch line {
		case "":
		case "accept":
			sess.Accept()
		case "reject":
			sess.Reject()
		case "hangup":
			sess.Hangup()
		default:
			sess.Submit(call.Command{Kind: call.CommandUnknown, Name: line})
		}
	}
}

// consoleBridge renders host-bridge events with pterm.
type consoleBridge struct {
	role call.Role
}

func (b *consoleBridge) OperatorState(st call.OperatorState) {
	util.LogInfo("operator state: %s", st)
	if st == call.OperatorRinging {
		pterm.Println("Incoming call — type 'accept' or 'reject'")
	}
}

func (b *consoleBridge) ClientStatus(status, message string) {
	util.LogInfo("status: %s — %s", status, message)
}

func (b *consoleBridge) ClientEvent(event, message string) {
	util.LogWarning("event: %s — %s", event, message)
}

func (b *consoleBridge) CallState(st call.CallState) {
	if st == call.CallActive {
		pterm.Println("✓ Call connected")
	} else {
		pterm.Println("Call ended")
	}
}

func (b *consoleBridge) Alert(message string) {
	pterm.Println(pterm.Yellow("! " + message))
}

func (b *consoleBridge) DeviceError(description string) {
	util.LogError("device: %s", description)
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// askRole prompts for a role when none was given on the command line.
func askRole() call.Role {
	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Client   — Call the operator from this kiosk", "Operator — Answer incoming kiosk calls"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(choice, "Operator") {
		return call.RoleOperator
	}
	return call.RoleClient
}

// askText prompts until a non-empty value is entered.
func askText(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		if v := strings.TrimSpace(raw); v != "" {
			pterm.Println()
			return v
		}

		util.LogWarning("a value is required")
		pterm.Println()
	}
}
