// fleetctl is the command-line client of the fleet daemon.
//
// Usage:
//
//	fleetctl [--addr URL] [--json] <command> [args]
//
// Commands: register, info, list, update, reboot, status, poll, actions,
// set-status, types.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/nerrad567/gray-logic-fleet/internal/action"
	"github.com/nerrad567/gray-logic-fleet/internal/device"
	"github.com/nerrad567/gray-logic-fleet/internal/fleetclient"
)

// defaultAddr is used when neither --addr nor FLEET_ADDR is set.
const defaultAddr = "http://localhost:8080"

var errUsage = errors.New("usage")

// cli holds global options and output streams for one invocation.
type cli struct {
	client *fleetclient.Client
	out    io.Writer
	errOut io.Writer
	json   bool
}

type command struct {
	usage string
	help  string
	run   func(ctx context.Context, c *cli, args []string) error
}

var commands = map[string]command{
	"register":   {"register <device_id> [--status S] [--meta k=v]...", "Register a new device", cmdRegister},
	"info":       {"info <device_id>", "Get device info", cmdInfo},
	"list":       {"list", "List devices", cmdList},
	"update":     {"update <device_id> --version V [--wait]", "Start software update on device", cmdUpdate},
	"reboot":     {"reboot <device_id> [--delay D] [--wait]", "Reboot a device", cmdReboot},
	"status":     {"status <action_id>", "Get action status", cmdStatus},
	"poll":       {"poll <action_id> [--interval D] [--timeout D]", "Poll action status until terminal", cmdPoll},
	"actions":    {"actions <device_id>", "List a device's actions", cmdActions},
	"set-status": {"set-status <device_id> <IDLE|OFFLINE|UNKNOWN>", "Set device availability", cmdSetStatus},
	"types":      {"types", "List supported action types", cmdTypes},
}

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("fleetctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", envOr("FLEET_ADDR", defaultAddr), "fleet daemon base URL (env FLEET_ADDR)")
	timeout := fs.Duration("request-timeout", 30*time.Second, "per-request timeout")
	asJSON := fs.Bool("json", false, "print JSON instead of text")
	fs.Usage = func() { printUsage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		printUsage(stderr, fs)
		return 2
	}

	name := fs.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		printUsage(stderr, fs)
		return 2
	}

	client, err := fleetclient.NewClient(fleetclient.Config{BaseURL: *addr, Timeout: *timeout})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	c := &cli{client: client, out: stdout, errOut: stderr, json: *asJSON}
	if err := cmd.run(ctx, c, fs.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "usage: fleetctl %s\n", cmd.usage)
			return 2
		}
		fmt.Fprintf(stderr, "Error: %s\n", describe(err))
		return 1
	}
	return 0
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "usage: fleetctl [flags] <command> [args]")
	fmt.Fprintln(w, "\nCommands:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, name := range []string{"register", "info", "list", "update", "reboot", "status", "poll", "actions", "set-status", "types"} {
		fmt.Fprintf(tw, "  %s\t%s\n", commands[name].usage, commands[name].help)
	}
	tw.Flush()
	fmt.Fprintln(w, "\nFlags:")
	fs.PrintDefaults()
}

// describe turns API errors into one readable line.
func describe(err error) string {
	var apiErr *fleetclient.Error
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("%s: %s", apiErr.Code, apiErr.Message)
	}
	return err.Error()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parseInterspersed parses fs from args, allowing flags after positional
// arguments, and returns the positionals.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, errUsage
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

func newFlagSet(c *cli, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	return fs
}

// metaFlag collects repeated --meta key=value pairs.
type metaFlag device.Metadata

func (m metaFlag) String() string { return fmt.Sprint(device.Metadata(m)) }

func (m metaFlag) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	if !ok || key == "" {
		return fmt.Errorf("metadata %q must be key=value", v)
	}
	m[key] = value
	return nil
}

// ─── Device commands ───────────────────────────────────────────────

func cmdRegister(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet(c, "register")
	status := fs.String("status", string(device.StatusIdle), "initial status")
	meta := metaFlag{}
	fs.Var(meta, "meta", "metadata key=value (repeatable)")
	pos, err := parseInterspersed(fs, args)
	if err != nil || len(pos) != 1 {
		return errUsage
	}

	req := fleetclient.RegisterRequest{DeviceID: pos[0], Status: device.Status(strings.ToUpper(*status))}
	if len(meta) > 0 {
		req.Metadata = device.Metadata(meta)
	}
	d, err := c.client.RegisterDevice(ctx, req)
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(d)
	}
	fmt.Fprintln(c.out, "Device registered:")
	c.printDevice(d)
	return nil
}

func cmdInfo(ctx context.Context, c *cli, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	d, err := c.client.GetDevice(ctx, args[0])
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(d)
	}
	fmt.Fprintln(c.out, "Device info:")
	c.printDevice(d)
	return nil
}

func cmdList(ctx context.Context, c *cli, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	devices, err := c.client.ListDevices(ctx)
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(devices)
	}
	fmt.Fprintln(c.out, "Devices:")
	for _, d := range devices {
		fmt.Fprintf(c.out, "- %s %s\n", d.ID, d.Status)
	}
	return nil
}

func cmdSetStatus(ctx context.Context, c *cli, args []string) error {
	if len(args) != 2 { //nolint:mnd // device and status
		return errUsage
	}
	d, err := c.client.SetDeviceStatus(ctx, args[0], device.Status(strings.ToUpper(args[1])))
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(d)
	}
	fmt.Fprintf(c.out, "Device %s is now %s\n", d.ID, d.Status)
	return nil
}

// ─── Action commands ───────────────────────────────────────────────

func cmdUpdate(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet(c, "update")
	version := fs.String("version", "", "target software version (required)")
	wait := fs.Bool("wait", false, "poll until the action finishes")
	pos, err := parseInterspersed(fs, args)
	if err != nil || len(pos) != 1 || *version == "" {
		return errUsage
	}

	a, err := c.client.SoftwareUpdate(ctx, pos[0], *version)
	if err != nil {
		return err
	}
	return c.started(ctx, a, *wait)
}

func cmdReboot(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet(c, "reboot")
	delay := fs.Duration("delay", 0, "delay before the reboot")
	wait := fs.Bool("wait", false, "poll until the action finishes")
	pos, err := parseInterspersed(fs, args)
	if err != nil || len(pos) != 1 || *delay < 0 {
		return errUsage
	}

	a, err := c.client.Reboot(ctx, pos[0], *delay)
	if err != nil {
		return err
	}
	return c.started(ctx, a, *wait)
}

func (c *cli) started(ctx context.Context, a *action.Action, wait bool) error {
	if c.json && !wait {
		return c.printJSON(a)
	}
	fmt.Fprintf(c.out, "Action started. Action ID = %s\n", a.ID)
	if !wait {
		return nil
	}
	return c.poll(ctx, a.ID, fleetclient.DefaultPollInterval)
}

func cmdStatus(ctx context.Context, c *cli, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	a, err := c.client.GetAction(ctx, args[0])
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(a)
	}
	fmt.Fprintln(c.out, "Action status:", a.Status)
	return nil
}

func cmdPoll(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet(c, "poll")
	interval := fs.Duration("interval", fleetclient.DefaultPollInterval, "delay between polls")
	timeout := fs.Duration("timeout", 0, "give up after this long (0 waits forever)")
	pos, err := parseInterspersed(fs, args)
	if err != nil || len(pos) != 1 {
		return errUsage
	}

	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}
	return c.poll(ctx, pos[0], *interval)
}

func (c *cli) poll(ctx context.Context, actionID string, interval time.Duration) error {
	a, err := c.client.PollAction(ctx, actionID, interval, func(a *action.Action) {
		if !c.json {
			fmt.Fprintln(c.out, "Status:", a.Status)
		}
	})
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(a)
	}
	if a.Status == action.StatusFailed {
		fmt.Fprintf(c.out, "Failure reason: %s\n", a.FailureReason)
	}
	if a.Result != "" {
		fmt.Fprintf(c.out, "Result: %s\n", a.Result)
	}
	return nil
}

func cmdActions(ctx context.Context, c *cli, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	actions, err := c.client.ListDeviceActions(ctx, args[0])
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(actions)
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTION ID\tTYPE\tSTATUS\tCREATED\tREASON")
	for _, a := range actions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Type, a.Status, a.CreatedAt.Local().Format(time.DateTime), a.FailureReason)
	}
	return tw.Flush()
}

func cmdTypes(ctx context.Context, c *cli, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	types, err := c.client.ActionTypes(ctx)
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(types)
	}
	for _, t := range types {
		fmt.Fprintln(c.out, t)
	}
	return nil
}

// ─── Output ────────────────────────────────────────────────────────

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) printDevice(d *device.Device) {
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  device_id:\t%s\n", d.ID)
	fmt.Fprintf(tw, "  status:\t%s\n", d.Status)
	for _, k := range slices.Sorted(maps.Keys(d.Metadata)) {
		fmt.Fprintf(tw, "  metadata.%s:\t%s\n", k, d.Metadata[k])
	}
	if d.LastSeen != nil {
		fmt.Fprintf(tw, "  last_seen:\t%s\n", d.LastSeen.Local().Format(time.DateTime))
	}
	tw.Flush()
}
