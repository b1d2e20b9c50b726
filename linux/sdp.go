//go:build linux

package linux

import (
	"bufio"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/agardelein/textoter/api/bluetooth"
	"github.com/agardelein/textoter/api/errorkinds"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	sdpServiceClassList       = 0x0001
	sdpProtocolDescriptorList = 0x0004
	sdpRfcommProtocol         = 0x0003

	maxRecordLineSize = 1 << 20
)

// Scanner runs a service discovery scan on a device, and returns the XML
// output of the scan as a stream. Closing the stream releases the scan.
type Scanner interface {
	Scan(ctx context.Context, address bluetooth.MacAddress) (io.ReadCloser, error)
}

// ChannelResolver finds the channel a service is reachable on.
type ChannelResolver interface {
	ResolveChannel(ctx context.Context, address bluetooth.MacAddress, target bluetooth.Capability) (uint8, error)
}

// Locator finds service channels from the records of a discovery scan.
type Locator struct {
	scanner Scanner
}

// NewLocator returns a locator which uses the provided scanner.
func NewLocator(scanner Scanner) *Locator {
	return &Locator{scanner: scanner}
}

// ResolveChannel scans the device and returns the RFCOMM channel of the first
// record which advertises the target service. The scan is stopped as soon as
// a channel is found. The scan has no timeout of its own, the context bounds it.
//
// All failures, including a missing scan tool or garbled output, are reported
// as errorkinds.ErrServiceNotFound.
func (l *Locator) ResolveChannel(ctx context.Context, address bluetooth.MacAddress, target bluetooth.Capability) (uint8, error) {
	scanctx, cancel := context.WithCancel(ctx)

	out, err := l.scanner.Scan(scanctx, address)
	if err != nil {
		cancel()
		log.Debug().Err(err).Str("address", address.String()).Msg("Cannot run service discovery")

		return 0, serviceNotFound(ctx, address, target, err)
	}
	defer func() {
		cancel()
		out.Close()
	}()

	channel, err := findChannel(out, target.UUID)
	if err != nil {
		return 0, serviceNotFound(ctx, address, target, err)
	}

	log.Debug().
		Str("address", address.String()).
		Str("service", target.Name).
		Uint8("channel", channel).
		Msg("Resolved service channel")

	return channel, nil
}

func serviceNotFound(ctx context.Context, address bluetooth.MacAddress, target bluetooth.Capability, err error) error {
	if !errors.Is(err, errorkinds.ErrServiceNotFound) {
		err = fmt.Errorf("%w: %w", errorkinds.ErrServiceNotFound, err)
	}

	return fault.Wrap(err,
		fctx.With(ctx, "error_at", "resolve-channel", "address", address.String(), "service", target.Name),
		ftag.With(ftag.NotFound),
		fmsg.WithDesc("service not found", "The "+target.Name+" service was not found on the device"),
	)
}

// findChannel reads the scan output line by line, rebuilding each service record
// and returning the channel of the first one which advertises service.
// Lines outside a record are ignored.
func findChannel(r io.Reader, service uuid.UUID) (uint8, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxRecordLineSize)

	var record strings.Builder
	inRecord := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if !inRecord {
			if !strings.HasPrefix(line, "<record") {
				continue
			}

			inRecord = true
			record.Reset()
		}

		record.WriteString(line)
		record.WriteByte('\n')

		if !strings.Contains(line, "</record>") {
			continue
		}
		inRecord = false

		var rec sdpElement
		if err := xml.Unmarshal([]byte(record.String()), &rec); err != nil {
			log.Debug().Err(err).Msg("Skipping malformed service record")
			continue
		}

		if !rec.advertises(service) {
			continue
		}

		channel, ok := rec.rfcommChannel()
		if !ok {
			log.Debug().Str("service", service.String()).Msg("Service record has no RFCOMM channel")
			continue
		}

		return channel, nil
	}

	if err := scanner.Err(); err != nil {
		return 0, err
	}

	return 0, errorkinds.ErrServiceNotFound
}

// sdpElement is a node of a service record tree, as printed by 'sdptool browse --xml'.
type sdpElement struct {
	XMLName  xml.Name
	ID       string       `xml:"id,attr"`
	Value    string       `xml:"value,attr"`
	Children []sdpElement `xml:",any"`
}

// children returns the direct children with the provided tag.
func (e *sdpElement) children(tag string) []sdpElement {
	var elements []sdpElement
	for _, c := range e.Children {
		if c.XMLName.Local == tag {
			elements = append(elements, c)
		}
	}

	return elements
}

// attribute returns the record attribute with the provided identifier.
func (e *sdpElement) attribute(id uint64) (sdpElement, bool) {
	for _, attr := range e.children("attribute") {
		v, err := strconv.ParseUint(attr.ID, 0, 16)
		if err == nil && v == id {
			return attr, true
		}
	}

	return sdpElement{}, false
}

// hasUUID reports whether one of the direct uuid children holds id.
func (e *sdpElement) hasUUID(id uuid.UUID) bool {
	for _, u := range e.children("uuid") {
		v, err := bluetooth.ParseServiceUUID(u.Value)
		if err == nil && v == id {
			return true
		}
	}

	return false
}

// advertises matches attribute[0x0001]/sequence/uuid[@value=service].
func (e *sdpElement) advertises(service uuid.UUID) bool {
	attr, ok := e.attribute(sdpServiceClassList)
	if !ok {
		return false
	}

	for _, seq := range attr.children("sequence") {
		if seq.hasUUID(service) {
			return true
		}
	}

	return false
}

// rfcommChannel matches attribute[0x0004]/sequence/sequence[uuid=0x0003]/uint8.
func (e *sdpElement) rfcommChannel() (uint8, bool) {
	attr, ok := e.attribute(sdpProtocolDescriptorList)
	if !ok {
		return 0, false
	}

	rfcomm := bluetooth.ServiceUUID(sdpRfcommProtocol)
	for _, seq := range attr.children("sequence") {
		for _, proto := range seq.children("sequence") {
			if !proto.hasUUID(rfcomm) {
				continue
			}

			for _, param := range proto.children("uint8") {
				channel, err := strconv.ParseUint(param.Value, 0, 8)
				if err == nil {
					return uint8(channel), true
				}
			}
		}
	}

	return 0, false
}

// sdptool runs scans with the BlueZ 'sdptool' utility.
type sdptool struct {
	path string
}

// Scan starts 'sdptool browse --xml' on the device and returns its output.
func (s sdptool) Scan(ctx context.Context, address bluetooth.MacAddress) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, s.path, "browse", "--xml", address.String())

	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &scanOutput{ReadCloser: out, cmd: cmd}, nil
}

// scanOutput waits for the scan process once its output is closed.
type scanOutput struct {
	io.ReadCloser
	cmd *exec.Cmd
}

// Close closes the output stream and reaps the scan process.
func (s *scanOutput) Close() error {
	s.ReadCloser.Close()

	return s.cmd.Wait()
}
