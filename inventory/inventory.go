// Package inventory imports devices, credentials, schedules and
// notification preferences from a YAML file.
package inventory

import (
	"bytes"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teranos/netpulse/errors"
	"github.com/teranos/netpulse/notify"
	"github.com/teranos/netpulse/pulse/schedule"
)

// File is the YAML inventory document
type File struct {
	Credentials   []CredentialSpec `yaml:"credentials"`
	Devices       []DeviceSpec     `yaml:"devices"`
	Schedules     []ScheduleSpec   `yaml:"schedules"`
	Notifications []PreferenceSpec `yaml:"notifications"`
}

// CredentialSpec declares a credential and the tags it is bound to
type CredentialSpec struct {
	ID        string       `yaml:"id"`
	Name      string       `yaml:"name"`
	Username  string       `yaml:"username"`
	Secret    string       `yaml:"secret"`
	SecretEnv string       `yaml:"secret_env"` // read the secret from this environment variable
	Tags      []TagBinding `yaml:"tags"`
}

// TagBinding binds a credential to a tag with a priority
type TagBinding struct {
	Tag      string `yaml:"tag"`
	Priority int    `yaml:"priority"`
}

// DeviceSpec declares a device
type DeviceSpec struct {
	ID            string `yaml:"id"`
	Label         string `yaml:"label"`
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Platform      string `yaml:"platform"`
	Credential    string `yaml:"credential"`
	Tag           string `yaml:"tag"`
	ConfigCommand string `yaml:"config_command"`
}

// ScheduleSpec declares a schedule. Existing ids are left alone.
type ScheduleSpec struct {
	ID      string         `yaml:"id"`
	Name    string         `yaml:"name"`
	Kind    string         `yaml:"kind"`
	Start   string         `yaml:"start"` // RFC3339, one_time only
	Time    string         `yaml:"time"`
	Day     string         `yaml:"day"`
	Month   int            `yaml:"month"`
	Job     string         `yaml:"job"`
	Device  string         `yaml:"device"`
	User    string         `yaml:"user"`
	Payload map[string]any `yaml:"payload"`
	Enabled *bool          `yaml:"enabled"` // default true
}

// PreferenceSpec declares a user's notification preferences
type PreferenceSpec struct {
	User         string `yaml:"user"`
	Address      string `yaml:"address"`
	Enabled      *bool  `yaml:"enabled"` // default true
	OnCompletion bool   `yaml:"on_completion"`
	OnFailure    *bool  `yaml:"on_failure"` // default true
	Frequency    string `yaml:"frequency"`
}

// Parse decodes an inventory document. Unknown fields are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return &f, nil
		}
		return nil, errors.Mark(errors.Wrap(err, "failed to parse inventory"), errors.ErrConfiguration)
	}
	return &f, nil
}

// ParseFile reads and decodes an inventory file
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read inventory %s", path)
	}
	return Parse(bytes.NewReader(data))
}

// Validate checks required fields and duplicates before anything is
// written. References to records outside the file are checked by the store.
func (f *File) Validate() error {
	creds := map[string]bool{}
	for i, c := range f.Credentials {
		if c.ID == "" || c.Username == "" {
			return errors.NewConfigurationError("credentials[%d]: id and username are required", i)
		}
		if creds[c.ID] {
			return errors.NewConfigurationError("credentials[%d]: duplicate id %s", i, c.ID)
		}
		creds[c.ID] = true
		for _, b := range c.Tags {
			if b.Tag == "" {
				return errors.NewConfigurationError("credential %s: tag binding without a tag", c.ID)
			}
		}
	}

	devices := map[string]bool{}
	for i, d := range f.Devices {
		if d.ID == "" || d.Host == "" {
			return errors.NewConfigurationError("devices[%d]: id and host are required", i)
		}
		if devices[d.ID] {
			return errors.NewConfigurationError("devices[%d]: duplicate id %s", i, d.ID)
		}
		devices[d.ID] = true
	}

	for i, s := range f.Schedules {
		if s.Name == "" || s.Job == "" {
			return errors.NewConfigurationError("schedules[%d]: name and job are required", i)
		}
		if _, err := s.Recurrence(); err != nil {
			return errors.Wrapf(err, "schedule %s", s.Name)
		}
	}

	for i, p := range f.Notifications {
		if p.User == "" || p.Address == "" {
			return errors.NewConfigurationError("notifications[%d]: user and address are required", i)
		}
		if p.Frequency != "" && !notify.Frequency(p.Frequency).Valid() {
			return errors.NewConfigurationError("notifications[%d]: unknown frequency %q", i, p.Frequency)
		}
	}
	return nil
}

// Recurrence converts the schedule entry into a validated recurrence
func (s ScheduleSpec) Recurrence() (schedule.Recurrence, error) {
	r := schedule.Recurrence{
		Kind:  schedule.Kind(strings.ToLower(s.Kind)),
		Time:  s.Time,
		Day:   s.Day,
		Month: s.Month,
	}
	if s.Start != "" {
		start, err := time.Parse(time.RFC3339, s.Start)
		if err != nil {
			return r, errors.Mark(errors.Wrapf(err, "invalid start %q", s.Start), schedule.ErrInvalidSchedule)
		}
		r.StartAt = &start
	}
	return r, r.Validate()
}

// ResolveSecret returns the literal secret or the value of SecretEnv
func (c CredentialSpec) ResolveSecret() (string, error) {
	if c.SecretEnv == "" {
		return c.Secret, nil
	}
	v, ok := os.LookupEnv(c.SecretEnv)
	if !ok {
		return "", errors.NewConfigurationError("credential %s: environment variable %s is not set", c.ID, c.SecretEnv)
	}
	return v, nil
}
