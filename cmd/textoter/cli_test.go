package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agardelein/textoter/api/bluetooth"
	"github.com/agardelein/textoter/api/config"
	"github.com/agardelein/textoter/api/errorkinds"
	"github.com/agardelein/textoter/api/eventbus"
	"github.com/agardelein/textoter/internal/state"
	"github.com/agardelein/textoter/platform"
)

const testDevice = "00:11:22:33:44:55"

// fakePhone records the calls made by the commands.
type fakePhone struct {
	devices  []bluetooth.DeviceData
	contacts []bluetooth.ContactRecord
	queued   bool

	// badChannel makes sessions on this channel fail to open.
	badChannel uint8
	// discovered is the channel used when none is given.
	discovered uint8

	sent     []bluetooth.Message
	channels [][]uint8
	last     map[string]uint8
}

func (f *fakePhone) Start(config.Configuration) error { return nil }
func (f *fakePhone) Stop() error                      { return nil }

func (f *fakePhone) Devices(context.Context) ([]bluetooth.DeviceData, error) {
	return f.devices, nil
}

func (f *fakePhone) open(target bluetooth.Capability, channel []uint8) error {
	f.channels = append(f.channels, channel)

	ch := f.discovered
	if len(channel) > 0 {
		ch = channel[0]
	}
	if f.badChannel != 0 && ch == f.badChannel {
		return errorkinds.ErrSessionCreate
	}

	if f.last == nil {
		f.last = make(map[string]uint8)
	}
	f.last[target.Name] = ch

	return nil
}

func (f *fakePhone) SendMessage(_ context.Context, address bluetooth.MacAddress, message bluetooth.Message, channel ...uint8) (bool, error) {
	if err := f.open(bluetooth.MessageAccess, channel); err != nil {
		return false, err
	}

	queued := f.queued
	f.sent = append(f.sent, message)

	eventbus.Emit(bluetooth.EventMessage, bluetooth.EventActionAdded, bluetooth.MessageEventData{
		Address: address,
		Number:  message.Number,
		Queued:  queued,
	})

	return queued, nil
}

func (f *fakePhone) Contacts(_ context.Context, _ bluetooth.MacAddress, channel ...uint8) ([]bluetooth.ContactRecord, error) {
	if err := f.open(bluetooth.PhonebookAccess, channel); err != nil {
		return nil, err
	}

	return f.contacts, nil
}

func (f *fakePhone) PhonebookEntries(_ context.Context, _ bluetooth.MacAddress, channel ...uint8) ([]bluetooth.PhonebookEntry, error) {
	if err := f.open(bluetooth.PhonebookAccess, channel); err != nil {
		return nil, err
	}

	return []bluetooth.PhonebookEntry{{Handle: "0.vcf", Name: "Owner"}}, nil
}

func (f *fakePhone) Channel(_ bluetooth.MacAddress, target bluetooth.Capability) (uint8, bool) {
	ch, ok := f.last[target.Name]
	return ch, ok
}

func runWith(t *testing.T, phone *fakePhone, statePath string, stdin string, args ...string) (int, string, string) {
	t.Helper()

	prev := newPhone
	newPhone = func() (bluetooth.Phone, platform.PlatformInfo) {
		return phone, platform.NewPlatformInfo(platform.BluezStack)
	}
	t.Cleanup(func() { newPhone = prev })

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), append([]string{"-config", statePath}, args...), strings.NewReader(stdin), &stdout, &stderr)

	return code, stdout.String(), stderr.String()
}

func TestSendRemembersDeviceNumberAndChannel(t *testing.T) {
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LANG", "fr_FR.UTF-8")

	path := filepath.Join(t.TempDir(), "state.toml")
	phone := &fakePhone{queued: true, discovered: 3}

	code, stdout, stderr := runWith(t, phone, path, "", "send", "-to", "0612345678", "-device", testDevice, "Hello", "there")
	if code != exitOK {
		t.Fatalf("unexpected exit code %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Message sent") {
		t.Fatalf("expected sent notification, got %q", stdout)
	}

	if len(phone.sent) != 1 || phone.sent[0].Number != "+33612345678" || phone.sent[0].Body != "Hello there" {
		t.Fatalf("unexpected message: %+v", phone.sent)
	}

	st, err := state.Load(path)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if st.Device != testDevice {
		t.Fatalf("device not remembered: %q", st.Device)
	}
	if len(st.History) != 1 || st.History[0] != "+33612345678" {
		t.Fatalf("unexpected history: %v", st.History)
	}
	if ch, ok := st.Channel(testDevice, bluetooth.MessageAccess.Name); !ok || ch != 3 {
		t.Fatalf("channel not remembered: %d %v", ch, ok)
	}
}

func TestSendRetriesDiscoveryOnStaleChannel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.toml")

	st := &state.State{Device: testDevice}
	st.SetChannel(testDevice, bluetooth.MessageAccess.Name, 7)
	if err := st.Save(path); err != nil {
		t.Fatalf("save state: %v", err)
	}

	phone := &fakePhone{queued: true, badChannel: 7, discovered: 4}
	code, stdout, stderr := runWith(t, phone, path, "Hi\n", "send", "-to", "+4412345")
	if code != exitOK {
		t.Fatalf("unexpected exit code %d: %s", code, stderr)
	}
	if stdout != "Message sent\n" {
		t.Fatalf("unexpected output: %q", stdout)
	}

	if len(phone.channels) != 2 || len(phone.channels[0]) != 1 || phone.channels[0][0] != 7 || len(phone.channels[1]) != 0 {
		t.Fatalf("expected a try on channel 7 then discovery, got %v", phone.channels)
	}
	if phone.sent[0].Body != "Hi" {
		t.Fatalf("unexpected body read from input: %q", phone.sent[0].Body)
	}

	st, err := state.Load(path)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if ch, _ := st.Channel(testDevice, bluetooth.MessageAccess.Name); ch != 4 {
		t.Fatalf("expected the discovered channel to be remembered, got %d", ch)
	}
}

func TestSendNotQueued(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.toml")
	phone := &fakePhone{}

	code, stdout, stderr := runWith(t, phone, path, "", "send", "-to", "123", "-device", testDevice, "x")
	if code != exitError {
		t.Fatalf("expected failure, got %d", code)
	}
	if !strings.Contains(stdout, "Message failed") {
		t.Fatalf("expected failed notification, got %q", stdout)
	}
	if strings.Contains(stderr, "Error") {
		t.Fatalf("unexpected error output: %q", stderr)
	}
}

func TestSendNoConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.toml")
	phone := &fakePhone{badChannel: 2}

	code, stdout, stderr := runWith(t, phone, path, "", "send", "-to", "123", "-device", testDevice, "-channel", "2", "x")
	if code != exitError {
		t.Fatalf("expected failure, got %d", code)
	}
	if stderr != "No connection with phone\n" {
		t.Fatalf("unexpected error output: %q", stderr)
	}
	if stdout != "" {
		t.Fatalf("unexpected notification: %q", stdout)
	}
}

func TestSendResolvesContactName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.toml")
	phone := &fakePhone{
		queued:     true,
		discovered: 5,
		contacts: []bluetooth.ContactRecord{
			{FormattedName: "Alice", Telephones: []string{"+33600000001"}},
		},
	}

	code, _, stderr := runWith(t, phone, path, "", "send", "-to", "Alice", "-device", testDevice, "x")
	if code != exitOK {
		t.Fatalf("unexpected exit code %d: %s", code, stderr)
	}
	if phone.sent[0].Number != "+33600000001" {
		t.Fatalf("unexpected number: %q", phone.sent[0].Number)
	}
}

func TestSendUsage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.toml")

	if code, _, _ := runWith(t, &fakePhone{}, path, "", "send", "x"); code != exitUsage {
		t.Fatalf("expected usage error without recipient, got %d", code)
	}
	if code, _, _ := runWith(t, &fakePhone{}, path, "", "send", "-to", "1", "x"); code != exitUsage {
		t.Fatalf("expected usage error without device, got %d", code)
	}
	if code, _, _ := runWith(t, &fakePhone{}, path, "", "send", "-to", "1", "-device", testDevice, "-channel", "99", "x"); code != exitUsage {
		t.Fatalf("expected usage error with invalid channel, got %d", code)
	}
	if code, _, _ := runWith(t, &fakePhone{}, path, ""); code != exitUsage {
		t.Fatalf("expected usage error without command, got %d", code)
	}
}

func TestDevicesMarksRememberedDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.toml")
	if err := (&state.State{Device: testDevice}).Save(path); err != nil {
		t.Fatalf("save state: %v", err)
	}

	addr, _ := bluetooth.ParseMAC(testDevice)
	other, _ := bluetooth.ParseMAC("AA:BB:CC:DD:EE:FF")
	phone := &fakePhone{devices: []bluetooth.DeviceData{
		{Address: addr, Name: "Phone"},
		{Address: other, Name: "Headset"},
	}}

	code, stdout, _ := runWith(t, phone, path, "", "devices")
	if code != exitOK {
		t.Fatalf("unexpected exit code %d", code)
	}

	want := "* 00:11:22:33:44:55  Phone\n  AA:BB:CC:DD:EE:FF  Headset\n"
	if stdout != want {
		t.Fatalf("unexpected output:\n%s", stdout)
	}
}

func TestContactsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.toml")
	phone := &fakePhone{contacts: []bluetooth.ContactRecord{
		{FormattedName: "Bob", Telephones: []string{"0622222222"}},
	}}

	code, stdout, stderr := runWith(t, phone, path, "", "-json", "contacts", "-device", testDevice)
	if code != exitOK {
		t.Fatalf("unexpected exit code %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, `"name": "Bob"`) || !strings.Contains(stdout, `"0622222222"`) {
		t.Fatalf("unexpected output: %s", stdout)
	}
}

func TestContactsLabelsAndList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.toml")
	phone := &fakePhone{contacts: []bluetooth.ContactRecord{
		{FormattedName: "Bob", Telephones: []string{"1", "2"}},
	}}

	code, stdout, _ := runWith(t, phone, path, "", "contacts", "-device", testDevice)
	if code != exitOK || stdout != "Bob (1)\nBob (2)\n" {
		t.Fatalf("unexpected output (%d): %q", code, stdout)
	}

	code, stdout, _ = runWith(t, phone, path, "", "contacts", "-list")
	if code != exitOK || stdout != "0.vcf\tOwner\n" {
		t.Fatalf("unexpected output (%d): %q", code, stdout)
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errNotQueued, ""},
		{errorkinds.ErrSessionCreate, "No connection with phone"},
		{errors.Join(errors.New("scan"), errorkinds.ErrServiceNotFound), "No connection with phone"},
		{errorkinds.ErrTransferTimeout, "The phone did not complete the transfer in time"},
		{errors.New("boom"), "Error: boom"},
	}

	for _, tt := range tests {
		if got := describe(tt.err); got != tt.want {
			t.Errorf("describe(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestMessageBody(t *testing.T) {
	body, err := messageBody(nil, strings.NewReader("line one\nline two\n"))
	if err != nil || body != "line one\nline two" {
		t.Fatalf("unexpected body %q, %v", body, err)
	}

	body, err = messageBody([]string{"a", "b"}, strings.NewReader("ignored"))
	if err != nil || body != "a b" {
		t.Fatalf("unexpected body %q, %v", body, err)
	}
}

func TestSendQuiet(t *testing.T) {
	t.Cleanup(func() { eventbus.RegisterEventHandler(eventbus.DefaultHandler()) })

	path := filepath.Join(t.TempDir(), "state.toml")
	phone := &fakePhone{queued: true}

	code, stdout, stderr := runWith(t, phone, path, "", "-quiet", "send", "-to", "123", "-device", testDevice, "x")
	if code != exitOK {
		t.Fatalf("unexpected exit code %d: %s", code, stderr)
	}
	if len(phone.sent) != 1 {
		t.Fatalf("message not sent: %+v", phone.sent)
	}
	if stdout != "" {
		t.Fatalf("unexpected notification: %q", stdout)
	}
}
