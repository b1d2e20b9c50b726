// Package recipient turns what the user typed as a destination into a phone number.
package recipient

import (
	"errors"
	"strings"

	"github.com/agardelein/textoter/api/bluetooth"
)

// ErrUnknownRecipient is returned when the input is neither a number nor a known contact.
var ErrUnknownRecipient = errors.New("unknown recipient")

// Resolve returns the phone number designated by input. The input can be a bare
// number, a "Name (number)" label, or the name of a contact, in which case the
// first number of the contact is used.
func Resolve(input string, contacts []bluetooth.ContactRecord) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrUnknownRecipient
	}

	for _, c := range contacts {
		for i, label := range c.Labels() {
			if label == input {
				return c.Telephones[i], nil
			}
		}
	}

	if IsNumber(input) {
		return input, nil
	}

	if open := strings.LastIndex(input, "("); open >= 0 && strings.HasSuffix(input, ")") {
		if number := strings.TrimSpace(input[open+1 : len(input)-1]); IsNumber(number) {
			return number, nil
		}
	}

	for _, c := range contacts {
		if strings.EqualFold(c.FormattedName, input) && len(c.Telephones) > 0 {
			return c.Telephones[0], nil
		}
	}

	return "", ErrUnknownRecipient
}

// IsNumber reports whether s looks like a phone number: an optional leading '+'
// followed by digits, which may be separated by spaces, dots or dashes.
func IsNumber(s string) bool {
	s = strings.TrimPrefix(strings.TrimSpace(s), "+")

	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == ' ' || r == '.' || r == '-':
		default:
			return false
		}
	}

	return digits > 0
}

// Normalize rewrites a number for the language of the user. In French locales,
// mobile numbers starting with 06 or 07 are converted to the international form.
func Normalize(number, lang string) string {
	number = strings.TrimSpace(number)

	if strings.HasPrefix(strings.ToLower(lang), "fr") &&
		(strings.HasPrefix(number, "06") || strings.HasPrefix(number, "07")) {
		return "+33" + number[1:]
	}

	return number
}
