package pipeline

import "regexp"

// credentialRe matches userinfo embedded in an https URL, which is how
// the clone token travels. Anything between the scheme and the host is
// a credential and must not survive into logs or stored errors.
var credentialRe = regexp.MustCompile(`(https?://)[^/@\s]+@`)

// Redact scrubs embedded URL credentials from a string. Applied to
// every error message produced by the cloning path before it leaves
// this package.
func Redact(s string) string {
	return credentialRe.ReplaceAllString(s, "${1}***@")
}
