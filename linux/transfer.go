//go:build linux

package linux

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/agardelein/textoter/api/bluetooth"
	"github.com/agardelein/textoter/api/codec"
	"github.com/agardelein/textoter/api/config"
	"github.com/agardelein/textoter/api/errorkinds"
	"github.com/agardelein/textoter/api/eventbus"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

// SessionCloser closes sessions.
type SessionCloser interface {
	Close(ctx context.Context, session *Session) error
}

// Orchestrator drives the data transfers of a session.
type Orchestrator struct {
	caller   Caller
	sessions SessionCloser
	cfg      config.Configuration

	openFile func(name string) (io.ReadCloser, error)
}

// NewOrchestrator returns an orchestrator which calls the OBEX daemon through caller.
func NewOrchestrator(caller Caller, sessions SessionCloser, cfg config.Configuration) *Orchestrator {
	return &Orchestrator{
		caller:   caller,
		sessions: sessions,
		cfg:      cfg.WithDefaults(),
		openFile: func(name string) (io.ReadCloser, error) {
			return os.Open(name)
		},
	}
}

// PushMessage submits an encoded message envelope to the outbox of the device.
// It reports whether the device accepted the message into its outbound queue;
// a message which is not accepted returns false and no error.
func (o *Orchestrator) PushMessage(ctx context.Context, session *Session, envelope string) (bool, error) {
	if err := session.check(); err != nil {
		return false, err
	}

	name, err := o.writeMessage(envelope)
	if err != nil {
		return false, fault.Wrap(err,
			fctx.With(ctx, "error_at", "write-message"),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot write message file"),
		)
	}
	session.onClose(func() {
		os.Remove(name)
	})

	var path dbus.ObjectPath
	var props map[string]dbus.Variant

	err = method{
		dest:    obexBusName,
		path:    dbus.ObjectPath(session.Path),
		name:    obexMessageIface + ".PushMessage",
		timeout: o.cfg.DataCallTimeout,
	}.callWith(ctx, o.caller, []any{name, o.cfg.OutboxFolder, map[string]dbus.Variant{}}, &path, &props)
	if err != nil {
		return false, fault.Wrap(err,
			fctx.With(ctx, "error_at", "push-message", "session", session.Path),
			fmsg.WithDesc("push message", "Message failed"),
		)
	}

	transfer := newTransfer(path, props)
	eventbus.Emit(bluetooth.EventTransfer, bluetooth.EventActionAdded, transfer)

	log.Debug().
		Str("transfer", transfer.Path).
		Str("status", string(transfer.Status)).
		Msg("Message pushed")

	return transfer.Status == bluetooth.TransferQueued, nil
}

// PullPhonebook retrieves all the contacts of the selected phonebook. Once the
// transfer is started, its status is polled until it is not pending anymore,
// and the resulting file is decoded. The session is closed before returning,
// whatever the outcome.
func (o *Orchestrator) PullPhonebook(ctx context.Context, session *Session) ([]bluetooth.ContactRecord, error) {
	if err := session.check(); err != nil {
		return nil, err
	}
	defer o.sessions.Close(ctx, session)

	if err := o.selectPhonebook(ctx, session); err != nil {
		return nil, err
	}

	transfer, err := o.pullAll(ctx, session)
	if err != nil {
		return nil, err
	}

	if err := o.waitTransfer(ctx, &transfer); err != nil {
		return nil, err
	}

	if transfer.Status == bluetooth.TransferError {
		return nil, fault.Wrap(errorkinds.ErrTransferFailed,
			fctx.With(ctx, "error_at", "pull-phonebook", "transfer", transfer.Path),
			ftag.With(ftag.Internal),
			fmsg.With("The phonebook transfer failed"),
		)
	}

	// The file is removed along with the session, so it is read before the deferred close.
	return o.readContacts(ctx, transfer)
}

// ListPhonebook lists the entries of the selected phonebook.
func (o *Orchestrator) ListPhonebook(ctx context.Context, session *Session) ([]bluetooth.PhonebookEntry, error) {
	if err := session.check(); err != nil {
		return nil, err
	}

	if err := o.selectPhonebook(ctx, session); err != nil {
		return nil, err
	}

	var raw [][]any
	err := method{
		dest:    obexBusName,
		path:    dbus.ObjectPath(session.Path),
		name:    obexPhonebookIface + ".List",
		timeout: o.cfg.DataCallTimeout,
	}.callWith(ctx, o.caller, []any{map[string]dbus.Variant{}}, &raw)
	if err != nil {
		return nil, fault.Wrap(err, fctx.With(ctx, "error_at", "list-phonebook", "session", session.Path))
	}

	entries := make([]bluetooth.PhonebookEntry, 0, len(raw))
	for _, fields := range raw {
		if len(fields) != 2 {
			continue
		}

		handle, _ := fields[0].(string)
		name, _ := fields[1].(string)
		entries = append(entries, bluetooth.PhonebookEntry{Handle: handle, Name: name})
	}

	return entries, nil
}

func (o *Orchestrator) selectPhonebook(ctx context.Context, session *Session) error {
	err := method{
		dest:    obexBusName,
		path:    dbus.ObjectPath(session.Path),
		name:    obexPhonebookIface + ".Select",
		timeout: o.cfg.CallTimeout,
	}.callWith(ctx, o.caller, []any{o.cfg.PhonebookLocation, o.cfg.Phonebook})
	if err != nil {
		return fault.Wrap(err,
			fctx.With(ctx, "error_at", "select-phonebook", "session", session.Path),
			fmsg.With("Cannot select phonebook"),
		)
	}

	return nil
}

func (o *Orchestrator) pullAll(ctx context.Context, session *Session) (bluetooth.TransferData, error) {
	var path dbus.ObjectPath
	var props map[string]dbus.Variant

	err := method{
		dest:    obexBusName,
		path:    dbus.ObjectPath(session.Path),
		name:    obexPhonebookIface + ".PullAll",
		timeout: o.cfg.DataCallTimeout,
	}.callWith(ctx, o.caller, []any{"", map[string]dbus.Variant{}}, &path, &props)
	if err != nil {
		return bluetooth.TransferData{}, fault.Wrap(err,
			fctx.With(ctx, "error_at", "pull-phonebook", "session", session.Path),
			fmsg.With("Cannot pull phonebook"),
		)
	}

	transfer := newTransfer(path, props)
	eventbus.Emit(bluetooth.EventTransfer, bluetooth.EventActionAdded, transfer)

	return transfer, nil
}

// waitTransfer polls the status of the transfer while it is pending.
// The transfer object is removed by the daemon once it completes, so a failed
// status query is taken as completion. Polling stops with
// errorkinds.ErrTransferTimeout after the configured transfer timeout.
func (o *Orchestrator) waitTransfer(ctx context.Context, transfer *bluetooth.TransferData) error {
	if !transfer.Status.Pending() {
		return nil
	}

	deadline := time.NewTimer(o.cfg.TransferTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for transfer.Status.Pending() {
		select {
		case <-ctx.Done():
			return fault.Wrap(ctx.Err(),
				fctx.With(ctx, "error_at", "wait-transfer", "transfer", transfer.Path),
				ftag.With(ftag.Cancelled),
			)

		case <-deadline.C:
			return fault.Wrap(errorkinds.ErrTransferTimeout,
				fctx.With(ctx, "error_at", "wait-transfer", "transfer", transfer.Path),
				ftag.With(ftag.Internal),
				fmsg.With(fmt.Sprintf("The transfer is still %s after %s", transfer.Status, o.cfg.TransferTimeout)),
			)

		case <-ticker.C:
		}

		status, err := o.transferStatus(ctx, transfer.Path)
		if err != nil {
			log.Debug().Str("transfer", transfer.Path).Msg("Transfer is gone, assuming it is complete")
			transfer.Status = bluetooth.TransferComplete
		} else {
			transfer.Status = status
		}

		eventbus.Emit(bluetooth.EventTransfer, bluetooth.EventActionUpdated, *transfer)
	}

	return nil
}

func (o *Orchestrator) transferStatus(ctx context.Context, path string) (bluetooth.TransferStatus, error) {
	var status dbus.Variant

	err := method{
		dest:    obexBusName,
		path:    dbus.ObjectPath(path),
		name:    dbusProperties + ".Get",
		timeout: o.cfg.CallTimeout,
	}.callWith(ctx, o.caller, []any{obexTransferIface, "Status"}, &status)
	if err != nil {
		return "", err
	}

	s, ok := status.Value().(string)
	if !ok {
		return "", fmt.Errorf("%w: unexpected status type %s", errorkinds.ErrMethodCall, status.Signature())
	}

	return bluetooth.TransferStatus(s), nil
}

func (o *Orchestrator) readContacts(ctx context.Context, transfer bluetooth.TransferData) ([]bluetooth.ContactRecord, error) {
	file, err := o.openFile(transfer.Filename)
	if err != nil {
		return nil, fault.Wrap(fmt.Errorf("%w: %w", errorkinds.ErrTransferFile, err),
			fctx.With(ctx, "error_at", "read-phonebook", "file", transfer.Filename),
			ftag.With(ftag.NotFound),
			fmsg.With("Cannot open the phonebook file"),
		)
	}
	defer file.Close()

	records, err := codec.DecodeVCards(file)
	if err != nil {
		return records, fault.Wrap(fmt.Errorf("%w: %w", errorkinds.ErrTransferFile, err),
			fctx.With(ctx, "error_at", "read-phonebook", "file", transfer.Filename),
			ftag.With(ftag.Internal),
		)
	}

	log.Debug().Int("contacts", len(records)).Msg("Phonebook retrieved")

	return records, nil
}

// writeMessage writes the envelope to a file which the OBEX daemon can read.
func (o *Orchestrator) writeMessage(envelope string) (string, error) {
	f, err := os.CreateTemp(o.cfg.TempDir, "textoter-*.bmsg")
	if err != nil {
		return "", err
	}

	if _, err := f.WriteString(envelope); err != nil {
		f.Close()
		os.Remove(f.Name())

		return "", err
	}

	if err := f.Chmod(0o644); err != nil {
		f.Close()
		os.Remove(f.Name())

		return "", err
	}

	return f.Name(), f.Close()
}

func newTransfer(path dbus.ObjectPath, props map[string]dbus.Variant) bluetooth.TransferData {
	return bluetooth.TransferData{
		Path:     string(path),
		Status:   bluetooth.TransferStatus(variantString(props, "Status")),
		Filename: variantString(props, "Filename"),
	}
}
