// Package device models managed network devices and the transport used to
// pull their configuration.
package device

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/netpulse/credential"
)

// DefaultPort is the SSH port assumed when a device does not set one
const DefaultPort = 22

// Device is a managed network device
type Device struct {
	ID            string
	Label         string
	Host          string
	Port          int
	Platform      string
	CredentialID  string // single credential; wins over TagID
	TagID         string // credential group resolved by priority
	ConfigCommand string // overrides the platform profile command
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Target returns what the device authenticates with
func (d *Device) Target() credential.Target {
	return credential.Target{CredentialID: d.CredentialID, TagID: d.TagID}
}

// Address returns host:port
func (d *Device) Address() string {
	port := d.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(port))
}

// DisplayName is the label, falling back to the host
func (d *Device) DisplayName() string {
	if d.Label != "" {
		return d.Label
	}
	return d.Host
}

// Profile describes how to talk to a device platform
type Profile struct {
	Name          string
	ConfigCommand string
}

var profiles = map[string]Profile{
	"generic":  {Name: "generic", ConfigCommand: "show running-config"},
	"ios":      {Name: "ios", ConfigCommand: "show running-config"},
	"iosxe":    {Name: "iosxe", ConfigCommand: "show running-config"},
	"nxos":     {Name: "nxos", ConfigCommand: "show running-config"},
	"eos":      {Name: "eos", ConfigCommand: "show running-config"},
	"junos":    {Name: "junos", ConfigCommand: "show configuration | display set | no-more"},
	"routeros": {Name: "routeros", ConfigCommand: "/export"},
	"vyos":     {Name: "vyos", ConfigCommand: "show configuration commands"},
}

// LookupProfile returns the profile for platform, case-insensitive
func LookupProfile(platform string) (Profile, bool) {
	key := strings.ToLower(strings.TrimSpace(platform))
	if key == "" {
		key = "generic"
	}
	p, ok := profiles[key]
	return p, ok
}

// Platforms lists known platform names
func Platforms() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	return names
}

// RetrievalCommand returns the command that prints the device configuration
func (d *Device) RetrievalCommand() string {
	if d.ConfigCommand != "" {
		return d.ConfigCommand
	}
	if p, ok := LookupProfile(d.Platform); ok {
		return p.ConfigCommand
	}
	return profiles["generic"].ConfigCommand
}
