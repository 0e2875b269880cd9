package verifier

import (
	"strings"

	"github.com/badoux/checkmail"
)

// SyntaxFilter decides whether a string is shaped like an address at all.
type SyntaxFilter func(address string) bool

// IsValidAddress is the permissive local-part@domain check: exactly one '@',
// both sides non-empty, and a dot inside the domain with something on either side.
func IsValidAddress(address string) bool {
	at := strings.IndexByte(address, '@')
	if at <= 0 || at == len(address)-1 {
		return false
	}
	if strings.IndexByte(address[at+1:], '@') >= 0 {
		return false
	}
	domain := address[at+1:]
	if len(domain) < 3 {
		return false
	}
	return strings.Contains(domain[1:len(domain)-1], ".")
}

// StrictSyntax layers checkmail's format validation on top of IsValidAddress.
func StrictSyntax(address string) bool {
	if !IsValidAddress(address) {
		return false
	}
	return checkmail.ValidateFormat(address) == nil
}

// Domain returns the part after '@'. Callers must pass a filtered address.
func Domain(address string) string {
	return address[strings.IndexByte(address, '@')+1:]
}
