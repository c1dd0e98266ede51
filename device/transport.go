package device

import (
	"context"
	"strings"

	"github.com/teranos/netpulse/credential"
)

// Transport is an opaque session to one device. Connect returns errors
// classified with the connect package so the retry engine can decide whether
// to retry, fall back or abort.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	SendCommand(ctx context.Context, command string) (string, error)
	GetConfiguration(ctx context.Context) (string, error)
}

// Dialer builds an unconnected transport for a device and credential
type Dialer interface {
	NewTransport(d *Device, c credential.Candidate) (Transport, error)
}

// DialerFunc adapts a function to Dialer
type DialerFunc func(d *Device, c credential.Candidate) (Transport, error)

// NewTransport calls f
func (f DialerFunc) NewTransport(d *Device, c credential.Candidate) (Transport, error) {
	return f(d, c)
}

// NormalizeOutput converts CRLF to LF and trims trailing blank lines and
// per-line trailing whitespace, so snapshots of unchanged configs compare equal.
func NormalizeOutput(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	out := strings.TrimRight(strings.Join(lines, "\n"), "\n")
	if out == "" {
		return ""
	}
	return out + "\n"
}
