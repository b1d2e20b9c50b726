//go:build linux

package linux

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/agardelein/textoter/api/bluetooth"
	"github.com/godbus/dbus/v5"
)

type fakeCall struct {
	dest   string
	path   dbus.ObjectPath
	method string
	args   []any
}

type fakeHandler func(path dbus.ObjectPath, args []any) ([]any, error)

// fakeCaller answers method calls with registered handlers.
type fakeCaller struct {
	handlers map[string]fakeHandler
	calls    []fakeCall

	mu sync.Mutex
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{handlers: make(map[string]fakeHandler)}
}

func (f *fakeCaller) handle(method string, h fakeHandler) *fakeCaller {
	f.handlers[method] = h
	return f
}

func (f *fakeCaller) Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args ...any) *dbus.Call {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{dest, path, method, args})
	h, ok := f.handlers[method]
	f.mu.Unlock()

	if !ok {
		return &dbus.Call{Err: errors.New("unknown method " + method)}
	}

	body, err := h(path, args)

	return &dbus.Call{Method: method, Path: path, Destination: dest, Body: body, Err: err}
}

func (f *fakeCaller) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, c := range f.calls {
		if c.method == method {
			n++
		}
	}

	return n
}

func (f *fakeCaller) last(method string) (fakeCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].method == method {
			return f.calls[i], true
		}
	}

	return fakeCall{}, false
}

func reply(body ...any) fakeHandler {
	return func(dbus.ObjectPath, []any) ([]any, error) {
		return body, nil
	}
}

func failure(name string) fakeHandler {
	return func(dbus.ObjectPath, []any) ([]any, error) {
		return nil, dbus.Error{Name: name, Body: []any{"failed"}}
	}
}

// fakeScanner returns a fixed scan output.
type fakeScanner struct {
	output string
	err    error
	scans  int
	closed int
}

func (f *fakeScanner) Scan(ctx context.Context, address bluetooth.MacAddress) (io.ReadCloser, error) {
	f.scans++
	if f.err != nil {
		return nil, f.err
	}

	return &closeCounter{Reader: strings.NewReader(f.output), closed: &f.closed}, nil
}

// closeCounter counts the number of times it is closed.
type closeCounter struct {
	io.Reader
	closed *int
}

func (c *closeCounter) Close() error {
	*c.closed++
	return nil
}

// fixedResolver always resolves to the same channel.
type fixedResolver struct {
	channel uint8
	err     error
	calls   int
}

func (f *fixedResolver) ResolveChannel(context.Context, bluetooth.MacAddress, bluetooth.Capability) (uint8, error) {
	f.calls++
	return f.channel, f.err
}

var testAddress = bluetooth.MacAddress{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
