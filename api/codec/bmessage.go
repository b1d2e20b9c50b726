// Package codec converts between the text formats exchanged with a phone:
// bMessage envelopes for outgoing messages, and vCard streams for phonebooks.
package codec

import (
	"strconv"
	"strings"
)

const (
	bmsgHeader = "BEGIN:BMSG\r\nVERSION:1.0\r\nSTATUS:READ\r\nTYPE:MMS\r\nFOLDER:null\r\nBEGIN:BENV\r\n"
	bmsgFooter = "END:BENV\r\nEND:BMSG\r\n"

	recipientHeader = "BEGIN:VCARD\r\nVERSION:2.1\r\nN:null;;;;\r\nTEL:"
	recipientFooter = "\r\nEND:VCARD\r\n"

	bodyHeader = "BEGIN:BBODY\r\nLENGTH:"

	msgHeader = "BEGIN:MSG\r\n"
	msgFooter = "\r\nEND:MSG\r\n"
)

// EncodeMessage wraps a message body into a bMessage envelope addressed to number.
// Line breaks in the body are converted to CRLF. The LENGTH field covers the
// whole BEGIN:MSG ... END:MSG block.
func EncodeMessage(number, body string) string {
	msg := msgHeader + NormalizeLineEndings(body) + msgFooter

	var sb strings.Builder
	sb.Grow(len(bmsgHeader) + len(recipientHeader) + len(number) + len(recipientFooter) +
		len(bodyHeader) + 8 + len(msg) + len(bmsgFooter))

	sb.WriteString(bmsgHeader)
	sb.WriteString(recipientHeader)
	sb.WriteString(number)
	sb.WriteString(recipientFooter)
	sb.WriteString(bodyHeader)
	sb.WriteString(strconv.Itoa(len(msg)))
	sb.WriteString("\r\n")
	sb.WriteString(msg)
	sb.WriteString(bmsgFooter)

	return sb.String()
}

// NormalizeLineEndings converts LF line breaks to CRLF, leaving existing
// CRLF sequences untouched.
func NormalizeLineEndings(text string) string {
	if !strings.Contains(text, "\n") {
		return text
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")

	return strings.ReplaceAll(text, "\n", "\r\n")
}
