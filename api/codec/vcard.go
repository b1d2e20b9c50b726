package codec

import (
	"bufio"
	"errors"
	"io"
	"mime/quotedprintable"
	"strings"

	"github.com/emersion/go-vcard"

	"github.com/agardelein/textoter/api/bluetooth"
)

const (
	vcardBegin      = "BEGIN:VCARD"
	vcardTerminator = "END:VCARD"
)

// VCardDecoder reads contact records from a vCard stream, one card at a time.
type VCardDecoder struct {
	r   *bufio.Reader
	buf []string
}

// NewVCardDecoder returns a decoder reading from r.
func NewVCardDecoder(r io.Reader) *VCardDecoder {
	return &VCardDecoder{r: bufio.NewReader(r)}
}

// Next returns the next contact record of the stream. Lines are buffered until a
// line containing END:VCARD is read. At the end of the stream, io.EOF is returned
// and any unterminated card is dropped. Cards which cannot be parsed are skipped.
func (d *VCardDecoder) Next() (bluetooth.ContactRecord, error) {
	for {
		line, err := d.r.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			d.buf = append(d.buf, line)

			if strings.Contains(line, vcardTerminator) {
				record, ok := parseVCard(d.buf)
				d.buf = d.buf[:0]

				if ok {
					return record, nil
				}
			}
		}

		if err != nil {
			d.buf = nil
			return bluetooth.ContactRecord{}, err
		}
	}
}

// DecodeVCards reads all the contact records of a vCard stream.
func DecodeVCards(r io.Reader) ([]bluetooth.ContactRecord, error) {
	var records []bluetooth.ContactRecord

	d := NewVCardDecoder(r)
	for {
		record, err := d.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}

			return records, err
		}

		records = append(records, record)
	}
}

func parseVCard(lines []string) (bluetooth.ContactRecord, bool) {
	var record bluetooth.ContactRecord

	// Anything before the card, such as a message envelope, is ignored.
	start := 0
	for i, line := range lines {
		if strings.EqualFold(strings.TrimSpace(line), vcardBegin) {
			start = i
		}
	}

	card, err := vcard.NewDecoder(strings.NewReader(strings.Join(upgradeLines(lines[start:]), "\r\n")+"\r\n")).Decode()
	if err != nil {
		return record, false
	}

	for _, key := range []string{vcard.FieldFormattedName, vcard.FieldName, vcard.FieldTelephone} {
		for _, f := range card[key] {
			f.Value = decodeValue(f)
		}
	}

	record.FormattedName = strings.TrimSpace(card.Value(vcard.FieldFormattedName))
	if record.FormattedName == "" {
		record.FormattedName = displayName(card.Name())
	}

	for _, tel := range card.Values(vcard.FieldTelephone) {
		if tel = strings.TrimSpace(tel); tel != "" {
			record.Telephones = append(record.Telephones, tel)
		}
	}

	return record, true
}

// upgradeLines rewrites vCard 2.1 lines into the form the vCard decoder expects:
// quoted-printable soft line breaks are joined, and parameters without a name
// are named ("TEL;CELL" becomes "TEL;TYPE=CELL").
func upgradeLines(lines []string) []string {
	var out []string

	for _, line := range lines {
		if n := len(out); n > 0 && strings.HasSuffix(out[n-1], "=") && isQuotedPrintable(out[n-1]) {
			out[n-1] = strings.TrimSuffix(out[n-1], "=") + line
			continue
		}

		if line != "" && line[0] != ' ' && line[0] != '\t' {
			line = nameParams(line)
		}

		out = append(out, line)
	}

	return out
}

func nameParams(line string) string {
	key, value, ok := strings.Cut(line, ":")
	if !ok || !strings.Contains(key, ";") {
		return line
	}

	parts := strings.Split(key, ";")
	for i, p := range parts[1:] {
		if p == "" || strings.Contains(p, "=") {
			continue
		}

		switch strings.ToUpper(p) {
		case "QUOTED-PRINTABLE", "BASE64", "8BIT", "7BIT":
			parts[i+1] = "ENCODING=" + p
		default:
			parts[i+1] = "TYPE=" + p
		}
	}

	return strings.Join(parts, ";") + ":" + value
}

func isQuotedPrintable(line string) bool {
	key, _, _ := strings.Cut(line, ":")
	return strings.Contains(strings.ToUpper(key), "QUOTED-PRINTABLE")
}

// decodeValue returns the value of a field, decoding vCard 2.1 quoted-printable values.
func decodeValue(f *vcard.Field) string {
	for name, values := range f.Params {
		if !strings.EqualFold(name, "ENCODING") {
			continue
		}

		for _, v := range values {
			if !strings.EqualFold(v, "QUOTED-PRINTABLE") {
				continue
			}

			decoded, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(f.Value)))
			if err != nil {
				return f.Value
			}

			return strings.TrimSpace(string(decoded))
		}
	}

	return f.Value
}

// displayName orders the parts of a structured name as "Prefix Given Additional Family Suffix".
func displayName(n *vcard.Name) string {
	if n == nil {
		return ""
	}

	parts := []string{n.HonorificPrefix, n.GivenName, n.AdditionalName, n.FamilyName, n.HonorificSuffix}
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}

	return strings.Join(names, " ")
}
