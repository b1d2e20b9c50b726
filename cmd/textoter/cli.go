package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/agardelein/textoter/api/bluetooth"
	"github.com/agardelein/textoter/api/config"
	"github.com/agardelein/textoter/api/errorkinds"
	"github.com/agardelein/textoter/api/eventbus"
	"github.com/agardelein/textoter/internal/logging"
	"github.com/agardelein/textoter/internal/recipient"
	"github.com/agardelein/textoter/internal/serde"
	"github.com/agardelein/textoter/internal/state"
	"github.com/agardelein/textoter/platform"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

const usageText = `usage: textoter [-config path] [-log-level level] [-json] [-quiet] <command> [arguments]

commands:
  devices                                       list the known devices
  send -to recipient [-device addr] [-channel n] [text]
                                                send a message, read from stdin if no text is given
  contacts [-device addr] [-channel n] [-list]  print the phonebook of the device
`

// app holds what a command needs to run.
type app struct {
	phone     bluetooth.Phone
	state     *state.State
	statePath string
	json      bool

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// newPhone is replaced in tests.
var newPhone = func() (bluetooth.Phone, platform.PlatformInfo) {
	return platform.Session()
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("textoter", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usageText) }

	statePath := fs.String("config", state.DefaultPath(), "path of the state file")
	level := fs.String("log-level", "warn", "log level: debug|info|warn|error")
	asJSON := fs.Bool("json", false, "print results as JSON")
	quiet := fs.Bool("quiet", false, "do not report whether messages were sent")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}

	logging.Init("textoter", *level, stderr)
	if *quiet {
		eventbus.DisableEvents()
	}

	st, err := state.Load(*statePath)
	if err != nil {
		log.Warn().Err(err).Str("path", *statePath).Msg("Ignoring unreadable state file")
		st = &state.State{}
	}

	phone, info := newPhone()
	log.Debug().Str("platform", info.String()).Msg("Starting")

	if err := phone.Start(config.New()); err != nil {
		fmt.Fprintln(stderr, "Cannot connect to the Bluetooth daemon:", err)
		return exitError
	}
	defer phone.Stop()

	a := &app{
		phone:     phone,
		state:     st,
		statePath: *statePath,
		json:      *asJSON,
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
	}

	command, rest := fs.Arg(0), fs.Args()[1:]
	switch command {
	case "devices":
		err = a.devices(ctx)
	case "send":
		err = a.send(ctx, rest)
	case "contacts":
		err = a.contacts(ctx, rest)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", command)
		fs.Usage()
		return exitUsage
	}

	if errors.Is(err, errUsage) {
		return exitUsage
	}

	if serr := a.state.Save(a.statePath); serr != nil {
		log.Warn().Err(serr).Str("path", a.statePath).Msg("Cannot save state")
	}

	if err != nil {
		if msg := describe(err); msg != "" {
			fmt.Fprintln(stderr, msg)
		}

		return exitError
	}

	return exitOK
}

var errUsage = errors.New("usage")

func (a *app) devices(ctx context.Context) error {
	devices, err := a.phone.Devices(ctx)
	if err != nil {
		return err
	}

	if a.json {
		return a.printJSON(devices)
	}

	for _, d := range devices {
		marker := " "
		if d.Address.String() == a.state.Device {
			marker = "*"
		}
		fmt.Fprintf(a.stdout, "%s %s  %s\n", marker, d.Address, d.Name)
	}

	return nil
}

func (a *app) send(ctx context.Context, args []string) error {
	fs := a.flagSet("send")
	to := fs.String("to", "", "recipient: number, contact name or \"Name (number)\"")
	device := fs.String("device", "", "address of the phone")
	channel := fs.Uint("channel", 0, "message access channel, discovered when 0")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if *to == "" {
		fmt.Fprintln(a.stderr, "send: -to is required")
		return errUsage
	}

	address, err := a.device(*device)
	if err != nil {
		return err
	}

	ch, err := channelFlag(*channel)
	if err != nil {
		fmt.Fprintln(a.stderr, "send:", err)
		return errUsage
	}

	body, err := messageBody(fs.Args(), a.stdin)
	if err != nil {
		return err
	}

	number, err := a.resolve(ctx, address, *to)
	if err != nil {
		return err
	}

	var queued bool
	stop := a.notify()
	err = a.withChannel(address, bluetooth.MessageAccess, ch, func(channel ...uint8) error {
		var err error

		queued, err = a.phone.SendMessage(ctx, address, bluetooth.Message{Number: number, Body: body}, channel...)
		return err
	})
	stop()

	if err != nil {
		return err
	}

	a.state.Device = address.String()
	a.state.Remember(number)
	if !queued {
		return errNotQueued
	}

	return nil
}

func (a *app) contacts(ctx context.Context, args []string) error {
	fs := a.flagSet("contacts")
	device := fs.String("device", "", "address of the phone")
	channel := fs.Uint("channel", 0, "phonebook access channel, discovered when 0")
	list := fs.Bool("list", false, "only list the phonebook entries")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	address, err := a.device(*device)
	if err != nil {
		return err
	}

	ch, err := channelFlag(*channel)
	if err != nil {
		fmt.Fprintln(a.stderr, "contacts:", err)
		return errUsage
	}

	if *list {
		var entries []bluetooth.PhonebookEntry
		err = a.withChannel(address, bluetooth.PhonebookAccess, ch, func(channel ...uint8) error {
			var err error

			entries, err = a.phone.PhonebookEntries(ctx, address, channel...)
			return err
		})
		if err != nil {
			return err
		}

		if a.json {
			return a.printJSON(entries)
		}
		for _, e := range entries {
			fmt.Fprintf(a.stdout, "%s\t%s\n", e.Handle, e.Name)
		}

		return nil
	}

	records, err := a.pullContacts(ctx, address, ch)
	if err != nil {
		return err
	}
	a.state.Device = address.String()

	if a.json {
		return a.printJSON(records)
	}
	for _, r := range records {
		for _, label := range r.Labels() {
			fmt.Fprintln(a.stdout, label)
		}
	}

	return nil
}

func (a *app) pullContacts(ctx context.Context, address bluetooth.MacAddress, channel uint8) ([]bluetooth.ContactRecord, error) {
	var records []bluetooth.ContactRecord
	err := a.withChannel(address, bluetooth.PhonebookAccess, channel, func(channel ...uint8) error {
		var err error

		records, err = a.phone.Contacts(ctx, address, channel...)
		return err
	})

	return records, err
}

// resolve turns the recipient typed by the user into a phone number.
// The phonebook is only pulled when the input is not already a number.
func (a *app) resolve(ctx context.Context, address bluetooth.MacAddress, input string) (string, error) {
	lang := locale()

	if recipient.IsNumber(input) {
		return recipient.Normalize(strings.TrimSpace(input), lang), nil
	}

	number, err := recipient.Resolve(input, nil)
	if err == nil {
		return recipient.Normalize(number, lang), nil
	}

	records, err := a.pullContacts(ctx, address, 0)
	if err != nil {
		return "", err
	}

	number, err = recipient.Resolve(input, records)
	if err != nil {
		return "", fmt.Errorf("%w: %q", err, input)
	}

	return recipient.Normalize(number, lang), nil
}

// withChannel runs fn with the channel to use for the capability on the device:
// the given one, else the remembered one, else none so that it is discovered.
// A remembered channel which does not lead to a session is forgotten, and fn
// is retried with discovery. The channel used by a successful call is remembered.
func (a *app) withChannel(address bluetooth.MacAddress, target bluetooth.Capability, channel uint8, fn func(channel ...uint8) error) error {
	key := address.String()

	var err error
	switch remembered, ok := a.state.Channel(key, target.Name); {
	case channel != 0:
		err = fn(channel)

	case ok && remembered != 0:
		err = fn(remembered)
		if errors.Is(err, errorkinds.ErrSessionCreate) {
			log.Debug().Uint8("channel", remembered).Str("service", target.Name).Msg("Forgetting channel")
			a.state.ForgetChannel(key, target.Name)
			err = fn()
		}

	default:
		err = fn()
	}

	if err != nil {
		return err
	}

	if used, ok := a.phone.Channel(address, target); ok {
		a.state.SetChannel(key, target.Name, used)
	}

	return nil
}

// notify prints the outcome of message events until the returned function is called.
func (a *app) notify() func() {
	sub := eventbus.Subscribe(bluetooth.EventMessage)
	done := make(chan struct{})

	go func() {
		defer close(done)

		for v := range sub.C {
			ev, ok := eventbus.Receive[bluetooth.MessageEventData](v)
			if !ok {
				continue
			}

			if ev.Data.Queued {
				fmt.Fprintln(a.stdout, "Message sent")
			} else {
				fmt.Fprintln(a.stdout, "Message failed")
			}
		}
	}()

	return func() {
		sub.Unsubscribe()
		<-done
	}
}

// device returns the address given on the command line, or the remembered one.
func (a *app) device(address string) (bluetooth.MacAddress, error) {
	if address == "" {
		address = a.state.Device
	}
	if address == "" {
		fmt.Fprintln(a.stderr, "no device given, use -device (see the devices command)")
		return bluetooth.MacAddress{}, errUsage
	}

	return bluetooth.ParseMAC(address)
}

func (a *app) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)

	return fs
}

func (a *app) printJSON(v any) error {
	data, err := serde.MarshalJson(v)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(a.stdout, string(data))

	return err
}

var errNotQueued = errors.New("message not queued")

// describe returns the message printed for a failed command.
// An empty message means the failure was already reported.
func describe(err error) string {
	switch {
	case errors.Is(err, errNotQueued):
		return ""

	case errors.Is(err, errorkinds.ErrSessionCreate),
		errors.Is(err, errorkinds.ErrServiceNotFound):
		return "No connection with phone"

	case errors.Is(err, errorkinds.ErrLocatorUnavailable):
		return "Cannot list the Bluetooth devices"

	case errors.Is(err, errorkinds.ErrTransferTimeout):
		return "The phone did not complete the transfer in time"

	case errors.Is(err, recipient.ErrUnknownRecipient):
		return err.Error()
	}

	return "Error: " + err.Error()
}

func channelFlag(v uint) (uint8, error) {
	if v > 30 {
		return 0, fmt.Errorf("invalid channel %d, must be between 1 and 30", v)
	}

	return uint8(v), nil
}

// messageBody joins the remaining arguments, or reads the whole input if there are none.
func messageBody(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read message: %w", err)
	}

	return strings.TrimRight(string(data), "\r\n"), nil
}

// locale returns the language setting of the user.
func locale() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}

	return ""
}
