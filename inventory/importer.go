package inventory

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/netpulse/credential"
	"github.com/teranos/netpulse/device"
	"github.com/teranos/netpulse/errors"
	"github.com/teranos/netpulse/logger"
	"github.com/teranos/netpulse/notify"
	"github.com/teranos/netpulse/pulse/schedule"
)

// Report counts what an import wrote
type Report struct {
	Credentials      int
	Bindings         int
	Devices          int
	SchedulesCreated int
	SchedulesSkipped int
	Preferences      int
}

// Importer writes an inventory into the stores
type Importer struct {
	credentials *credential.SQLStore
	devices     *device.Store
	schedules   *schedule.Store
	prefs       *notify.SQLStore
	logger      *zap.SugaredLogger
}

// NewImporter creates an importer
func NewImporter(creds *credential.SQLStore, devices *device.Store, schedules *schedule.Store, prefs *notify.SQLStore, log *zap.SugaredLogger) *Importer {
	return &Importer{
		credentials: creds,
		devices:     devices,
		schedules:   schedules,
		prefs:       prefs,
		logger:      logger.Component(log, "inventory"),
	}
}

// Import validates f and writes it in dependency order: credentials,
// devices, schedules, notification preferences. Credentials, devices and
// preferences are upserted; schedules whose id already exists are skipped
// so their run history survives a re-import.
func (im *Importer) Import(ctx context.Context, f *File, now time.Time) (Report, error) {
	var rep Report
	if err := f.Validate(); err != nil {
		return rep, err
	}

	for _, c := range f.Credentials {
		secret, err := c.ResolveSecret()
		if err != nil {
			return rep, err
		}
		name := c.Name
		if name == "" {
			name = c.ID
		}
		if err := im.credentials.UpsertCredential(ctx, &credential.Credential{
			ID: c.ID, Name: name, Username: c.Username, Secret: secret,
		}); err != nil {
			return rep, err
		}
		rep.Credentials++
		for _, b := range c.Tags {
			if err := im.credentials.PutBinding(ctx, &credential.Binding{
				CredentialID: c.ID, TagID: b.Tag, Priority: b.Priority,
			}); err != nil {
				return rep, err
			}
			rep.Bindings++
		}
	}

	for _, d := range f.Devices {
		dev := &device.Device{
			ID:            d.ID,
			Label:         d.Label,
			Host:          d.Host,
			Port:          d.Port,
			Platform:      d.Platform,
			CredentialID:  d.Credential,
			TagID:         d.Tag,
			ConfigCommand: d.ConfigCommand,
		}
		if err := im.devices.Upsert(ctx, dev); err != nil {
			return rep, errors.Wrapf(err, "device %s", d.ID)
		}
		rep.Devices++
	}

	for _, s := range f.Schedules {
		if s.ID != "" {
			if _, err := im.schedules.GetDefinition(ctx, s.ID); err == nil {
				im.logger.Infow("Schedule exists, skipping", logger.FieldScheduleID, s.ID, "schedule", s.Name)
				rep.SchedulesSkipped++
				continue
			} else if !errors.IsNotFoundError(err) {
				return rep, err
			}
		}
		rec, _ := s.Recurrence()
		enabled := s.Enabled == nil || *s.Enabled
		def := &schedule.Definition{
			ID:         s.ID,
			Name:       s.Name,
			Recurrence: rec,
			JobKind:    s.Job,
			DeviceID:   s.Device,
			UserID:     s.User,
			Payload:    s.Payload,
			Enabled:    enabled,
		}
		if err := im.schedules.CreateDefinition(ctx, def, now); err != nil {
			return rep, errors.Wrapf(err, "schedule %s", s.Name)
		}
		rep.SchedulesCreated++
	}

	for _, p := range f.Notifications {
		frequency := notify.Frequency(p.Frequency)
		if frequency == "" {
			frequency = notify.FrequencyImmediate
		}
		if err := im.prefs.PutPreferences(ctx, &notify.Preferences{
			UserID:       p.User,
			Address:      p.Address,
			Enabled:      p.Enabled == nil || *p.Enabled,
			OnCompletion: p.OnCompletion,
			OnFailure:    p.OnFailure == nil || *p.OnFailure,
			Frequency:    frequency,
		}); err != nil {
			return rep, err
		}
		rep.Preferences++
	}

	im.logger.Infow("Inventory imported",
		"credentials", rep.Credentials,
		"bindings", rep.Bindings,
		"devices", rep.Devices,
		"schedules_created", rep.SchedulesCreated,
		"schedules_skipped", rep.SchedulesSkipped,
		"preferences", rep.Preferences)
	return rep, nil
}
