// Package datastore owns the persisted state of one emulated bridge: its
// configuration, users and resource collections.
//
// A Datastore is not safe for concurrent use. It is owned by a bridge
// control loop which serializes every access.
package datastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huebridge/internal/eventbus"
	"github.com/dokzlo13/huebridge/internal/storage/kv"
)

// ErrNotFound is returned when a resource does not exist.
var ErrNotFound = errors.New("resource not found")

// Persisted keys, one per collection.
const (
	keyConfig        = "config"
	keyLights        = "lights"
	keyGroups        = "groups"
	keySchedules     = "schedules"
	keyScenes        = "scenes"
	keySensors       = "sensors"
	keyRules         = "rules"
	keyResourcelinks = "resourcelinks"
)

var allKeys = []string{
	keyConfig, keyLights, keyGroups, keySchedules,
	keyScenes, keySensors, keyRules, keyResourcelinks,
}

// DateFormat is the timestamp layout used across the API.
const DateFormat = "2006-01-02T15:04:05"

// Publisher receives change events.
type Publisher interface {
	Publish(eventbus.Event)
}

// Everything is the complete persisted state, used for backup and restore.
type Everything struct {
	Config        Config                   `json:"config"`
	Lights        Collection[Light]        `json:"lights"`
	Groups        Collection[Group]        `json:"groups"`
	Schedules     Collection[Schedule]     `json:"schedules"`
	Scenes        Collection[Scene]        `json:"scenes"`
	Sensors       Collection[Sensor]       `json:"sensors"`
	Rules         Collection[Rule]         `json:"rules"`
	Resourcelinks Collection[Resourcelink] `json:"resourcelinks"`
}

// Datastore holds the state of one bridge.
type Datastore struct {
	bucket kv.Bucket
	events Publisher
	now    func() time.Time
	net    Network

	state Everything
	dirty map[string]bool
}

// Option configures a Datastore.
type Option func(*Datastore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Datastore) { d.now = now }
}

// New creates a datastore with factory defaults. Call Load to read persisted state.
func New(bucket kv.Bucket, events Publisher, netw Network, opts ...Option) *Datastore {
	d := &Datastore{
		bucket: bucket,
		events: events,
		now:    time.Now,
		net:    netw,
		dirty:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.state = d.defaults()
	return d
}

func (d *Datastore) defaults() Everything {
	cfg := DefaultConfig()
	e := Everything{
		Config:        cfg,
		Lights:        newCollection[Light](),
		Groups:        newCollection[Group](),
		Schedules:     newCollection[Schedule](),
		Scenes:        newCollection[Scene](),
		Sensors:       newCollection[Sensor](),
		Rules:         newCollection[Rule](),
		Resourcelinks: newCollection[Resourcelink](),
	}
	e.Sensors.add(newDaylightSensor())
	return e
}

// Now returns the datastore's current time.
func (d *Datastore) Now() time.Time {
	return d.now()
}

// DateString formats the current time the way the API reports timestamps.
func (d *Datastore) DateString() string {
	return d.now().Format(DateFormat)
}

// Emit publishes a change event.
func (d *Datastore) Emit(ev eventbus.Event) {
	if d.events != nil {
		d.events.Publish(ev)
	}
}

func (d *Datastore) markDirty(keys ...string) {
	for _, k := range keys {
		d.dirty[k] = true
	}
}

// Dirty reports whether there are unflushed changes.
func (d *Datastore) Dirty() bool {
	return len(d.dirty) > 0
}

// Load reads persisted collections from the bucket. Missing keys keep their defaults.
func (d *Datastore) Load() error {
	if d.bucket == nil {
		return nil
	}
	state := d.defaults()
	targets := d.targets(&state)
	for _, key := range allKeys {
		data, err := d.bucket.Get(key)
		if err != nil {
			return fmt.Errorf("load %s: %w", key, err)
		}
		if data == nil {
			continue
		}
		if err := json.Unmarshal(data, targets[key]); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
	}
	normalize(&state)
	d.state = state
	d.dirty = make(map[string]bool)
	log.Debug().Str("bucket", d.bucket.Name()).Int("lights", len(state.Lights.List)).
		Int("rules", len(state.Rules.List)).Int("schedules", len(state.Schedules.List)).
		Msg("Datastore loaded")
	return nil
}

// Flush writes dirty collections to the bucket.
func (d *Datastore) Flush() error {
	if d.bucket == nil || len(d.dirty) == 0 {
		d.dirty = make(map[string]bool)
		return nil
	}
	targets := d.targets(&d.state)
	var errs []error
	for _, key := range allKeys {
		if !d.dirty[key] {
			continue
		}
		data, err := json.Marshal(targets[key])
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", key, err))
			continue
		}
		if err := d.bucket.Store(key, data); err != nil {
			errs = append(errs, fmt.Errorf("store %s: %w", key, err))
			continue
		}
		delete(d.dirty, key)
	}
	return errors.Join(errs...)
}

func (d *Datastore) targets(e *Everything) map[string]any {
	return map[string]any{
		keyConfig:        &e.Config,
		keyLights:        &e.Lights,
		keyGroups:        &e.Groups,
		keySchedules:     &e.Schedules,
		keyScenes:        &e.Scenes,
		keySensors:       &e.Sensors,
		keyRules:         &e.Rules,
		keyResourcelinks: &e.Resourcelinks,
	}
}

// normalize repairs nil maps and counters after decoding.
func normalize(e *Everything) {
	if e.Config.Whitelist == nil {
		e.Config.Whitelist = make(map[string]User)
	}
	fixCollection(&e.Lights)
	fixCollection(&e.Groups)
	fixCollection(&e.Schedules)
	fixCollection(&e.Scenes)
	fixCollection(&e.Sensors)
	fixCollection(&e.Rules)
	fixCollection(&e.Resourcelinks)
	if _, ok := e.Sensors.List["1"]; !ok {
		e.Sensors.List["1"] = newDaylightSensor()
		if e.Sensors.NextID < 2 {
			e.Sensors.NextID = 2
		}
	}
}

func fixCollection[T any](c *Collection[T]) {
	if c.List == nil {
		c.List = make(map[string]*T)
	}
	if c.NextID < 1 {
		c.NextID = 1
	}
}

// Everything returns the complete state as a JSON document.
func (d *Datastore) Everything() ([]byte, error) {
	return json.Marshal(d.state)
}

// SetEverything replaces the complete state with a document produced by Everything.
func (d *Datastore) SetEverything(data []byte) error {
	var state Everything
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	normalize(&state)
	d.state = state
	d.markDirty(allKeys...)
	d.Emit(eventbus.Event{Type: eventbus.RuleEngineReload})
	return nil
}

// ClearConfiguration resets every collection to factory defaults. Network settings are kept.
func (d *Datastore) ClearConfiguration() {
	d.state = d.defaults()
	d.markDirty(allKeys...)
	d.Emit(eventbus.Event{Type: eventbus.RuleEngineReload})
}

// Network returns the instance network parameters.
func (d *Datastore) Network() Network {
	return d.net
}

// SetHTTPPort records the port the listener actually bound.
func (d *Datastore) SetHTTPPort(port int) {
	d.net.HTTPPort = port
}

// SetHTTPSPort records the port the TLS listener actually bound.
func (d *Datastore) SetHTTPSPort(port int) {
	d.net.HTTPSPort = port
}

// BridgeID returns the bridge ID derived from the MAC.
func (d *Datastore) BridgeID() string {
	return BridgeID(d.net.MAC)
}

// ExternalURL returns host:port for clients.
func (d *Datastore) ExternalURL() string {
	return d.net.ExternalURL()
}

// Config returns the full configuration with network and clock fields filled in.
func (d *Datastore) Config() Config {
	cfg := d.state.Config
	cfg.BridgeID = d.BridgeID()
	cfg.MAC = d.net.MAC
	cfg.IPAddress = d.net.Address
	cfg.Netmask = d.net.Netmask
	cfg.Gateway = d.net.Gateway
	now := d.now()
	cfg.UTC = now.UTC().Format(DateFormat)
	cfg.LocalTime = now.In(d.Location()).Format(DateFormat)
	wl := make(map[string]User, len(cfg.Whitelist))
	for k, v := range cfg.Whitelist {
		wl[k] = v
	}
	cfg.Whitelist = wl
	return cfg
}

// Location returns the configured bridge timezone, or the host zone when unset or unknown.
func (d *Datastore) Location() *time.Location {
	loc, err := time.LoadLocation(d.state.Config.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// MinimalConfig returns the configuration subset shown to unauthenticated clients.
func (d *Datastore) MinimalConfig() MinimalConfig {
	cfg := d.Config()
	return MinimalConfig{
		Name:             cfg.Name,
		DatastoreVersion: cfg.DatastoreVersion,
		SWVersion:        cfg.SWVersion,
		APIVersion:       cfg.APIVersion,
		MAC:              cfg.MAC,
		BridgeID:         cfg.BridgeID,
		FactoryNew:       cfg.FactoryNew,
		ReplacesBridgeID: cfg.ReplacesBridgeID,
		ModelID:          cfg.ModelID,
		StarterKitID:     cfg.StarterKitID,
	}
}

// FullState returns the whole bridge state as served by GET /api/<user>.
func (d *Datastore) FullState() map[string]any {
	return map[string]any{
		"config":        d.Config(),
		"lights":        d.state.Lights.List,
		"groups":        d.state.Groups.List,
		"schedules":     d.state.Schedules.List,
		"scenes":        d.state.Scenes.List,
		"sensors":       d.state.Sensors.List,
		"rules":         d.state.Rules.List,
		"resourcelinks": d.state.Resourcelinks.List,
	}
}

// SetName renames the bridge.
func (d *Datastore) SetName(name string) {
	d.state.Config.Name = name
	d.markDirty(keyConfig)
}

// LinkButton reports whether the link button is pressed.
func (d *Datastore) LinkButton() bool {
	return d.state.Config.LinkButton
}

// SetLinkButton presses or releases the link button and announces it.
func (d *Datastore) SetLinkButton(pressed bool) {
	d.state.Config.LinkButton = pressed
	d.markDirty(keyConfig)
	d.Emit(eventbus.Event{Type: eventbus.LinkButton, Value: pressed})
}

// SetPortalServices toggles the (fake) portal services flag.
func (d *Datastore) SetPortalServices(on bool) {
	d.state.Config.PortalServices = on
	d.markDirty(keyConfig)
}

// SetTimezone sets the bridge timezone name.
func (d *Datastore) SetTimezone(tz string) {
	d.state.Config.Timezone = tz
	d.markDirty(keyConfig)
}

// SetZigbeeChannel sets the reported zigbee channel.
func (d *Datastore) SetZigbeeChannel(ch int) {
	d.state.Config.ZigbeeChannel = ch
	d.markDirty(keyConfig)
}

// IsUsernameValid reports whether username is whitelisted.
func (d *Datastore) IsUsernameValid(username string) bool {
	if username == "" {
		return false
	}
	_, ok := d.state.Config.Whitelist[username]
	return ok
}

// CreateUser whitelists a new user and returns its username. When withClientKey
// is set a client key is generated as well.
func (d *Datastore) CreateUser(deviceType string, withClientKey bool) (username, clientKey string) {
	username = strings.ReplaceAll(uuid.NewString(), "-", "")
	if withClientKey {
		clientKey = strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	}
	now := d.DateString()
	d.state.Config.Whitelist[username] = User{
		Name:        deviceType,
		CreateDate:  now,
		LastUseDate: now,
		ClientKey:   clientKey,
	}
	d.markDirty(keyConfig)
	return username, clientKey
}

// DeleteUser removes a user from the whitelist.
func (d *Datastore) DeleteUser(username string) bool {
	if _, ok := d.state.Config.Whitelist[username]; !ok {
		return false
	}
	delete(d.state.Config.Whitelist, username)
	d.markDirty(keyConfig)
	return true
}
