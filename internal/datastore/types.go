package datastore

import (
	"encoding/json"
	"sort"
	"strconv"
)

// Light type codes as registered by device drivers.
const (
	TypeOnOff            = "0x0000"
	TypeDimmable         = "0x0100"
	TypeColor            = "0x0200"
	TypeExtendedColor    = "0x0210"
	TypeColorTemperature = "0x0220"
)

// DefaultLightModel is used when a light registers without a model ID.
const DefaultLightModel = "NR001"

var lightTypeNames = map[string]string{
	TypeOnOff:            "On/off Light",
	TypeDimmable:         "Dimmable Light",
	TypeColor:            "Color Light",
	TypeExtendedColor:    "Extended Color Light",
	TypeColorTemperature: "Color Temperature Light",
}

// LightTypeName returns the human readable type for a type code.
func LightTypeName(typ string) (string, bool) {
	name, ok := lightTypeNames[typ]
	return name, ok
}

// LightState is the state of a single light.
type LightState struct {
	On             bool       `json:"on"`
	Bri            int        `json:"bri"`
	Hue            int        `json:"hue"`
	Sat            int        `json:"sat"`
	Effect         string     `json:"effect"`
	XY             [2]float64 `json:"xy"`
	CT             int        `json:"ct"`
	Alert          string     `json:"alert"`
	ColorMode      string     `json:"colormode"`
	TransitionTime int        `json:"transitiontime"`
	Reachable      bool       `json:"reachable"`
}

// Light is a registered light. Fields prefixed with "_" in JSON are internal.
type Light struct {
	State            LightState `json:"state"`
	Type             string     `json:"type"`
	Name             string     `json:"name"`
	ModelID          string     `json:"modelid"`
	ManufacturerName string     `json:"manufacturername"`
	UniqueID         string     `json:"uniqueid"`
	SWVersion        string     `json:"swversion"`
	Typ              string     `json:"_typ"`
	ClientID         string     `json:"_clientid"`
}

// LightNode is the management view of a light.
type LightNode struct {
	ClientID string `json:"clientid"`
	Type     string `json:"type"`
	Typ      string `json:"_typ"`
}

// GroupState summarizes the member lights of a group.
type GroupState struct {
	AllOn bool `json:"all_on"`
	AnyOn bool `json:"any_on"`
}

// Group is a user defined set of lights.
type Group struct {
	Name      string         `json:"name"`
	Lights    []string       `json:"lights"`
	Type      string         `json:"type"`
	State     GroupState     `json:"state"`
	Recycle   bool           `json:"recycle"`
	Class     string         `json:"class,omitempty"`
	Action    map[string]any `json:"action"`
	Locations map[string]any `json:"locations,omitempty"`
	Stream    map[string]any `json:"stream,omitempty"`
}

// Scene stores per-light state snapshots that can be recalled through a group.
type Scene struct {
	Name           string                `json:"name"`
	Type           string                `json:"type"`
	Lights         []string              `json:"lights"`
	Owner          string                `json:"owner"`
	Recycle        bool                  `json:"recycle"`
	Locked         bool                  `json:"locked"`
	AppData        map[string]any        `json:"appdata"`
	Picture        string                `json:"picture"`
	LastUpdated    string                `json:"lastupdated"`
	Version        int                   `json:"version"`
	Effect         string                `json:"effect,omitempty"`
	TransitionTime *int                  `json:"transitiontime,omitempty"`
	LightStates    map[string]StatePatch `json:"lightstates"`
}

// Sensor is a physical or virtual sensor. Config and state are free-form per sensor type.
type Sensor struct {
	State            map[string]any `json:"state"`
	Config           map[string]any `json:"config"`
	Name             string         `json:"name"`
	Type             string         `json:"type"`
	ModelID          string         `json:"modelid"`
	ManufacturerName string         `json:"manufacturername"`
	SWVersion        string         `json:"swversion"`
	UniqueID         string         `json:"uniqueid"`
	Recycle          bool           `json:"recycle,omitempty"`
	ClientID         string         `json:"_clientid,omitempty"`
}

// Condition is one clause of a rule. SensorID and Key are derived from Address.
type Condition struct {
	Address  string `json:"address"`
	Operator string `json:"operator"`
	Value    string `json:"value,omitempty"`
	SensorID string `json:"_sensorid"`
	Key      string `json:"_key"`
}

// Action is a request replayed when a rule fires.
type Action struct {
	Address string          `json:"address"`
	Method  string          `json:"method"`
	Body    json.RawMessage `json:"body"`
}

// Rule fires its actions when all conditions match.
type Rule struct {
	Name           string      `json:"name"`
	Owner          string      `json:"owner"`
	Created        string      `json:"created"`
	LastTriggered  string      `json:"lasttriggered"`
	TimesTriggered int         `json:"timestriggered"`
	Status         string      `json:"status"`
	Recycle        bool        `json:"recycle"`
	Conditions     []Condition `json:"conditions"`
	Actions        []Action    `json:"actions"`
}

// Command is the request a schedule replays.
type Command struct {
	Address string          `json:"address"`
	Method  string          `json:"method"`
	Body    json.RawMessage `json:"body"`
}

// Schedule replays its command at the time described by LocalTime.
type Schedule struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Command     Command `json:"command"`
	LocalTime   string  `json:"localtime"`
	Time        string  `json:"time"`
	Created     string  `json:"created"`
	Status      string  `json:"status"`
	AutoDelete  bool    `json:"autodelete"`
	Recycle     bool    `json:"recycle"`
	StartTime   string  `json:"starttime,omitempty"`
}

// Resourcelink groups related resource paths.
type Resourcelink struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Type        string   `json:"type"`
	ClassID     int      `json:"classid"`
	Owner       string   `json:"owner"`
	Recycle     bool     `json:"recycle"`
	Links       []string `json:"links"`
}

// User is a whitelist entry.
type User struct {
	Name        string `json:"name"`
	CreateDate  string `json:"create date"`
	LastUseDate string `json:"last use date"`
	ClientKey   string `json:"_clientkey,omitempty"`
}

// Collection holds the resources of one kind and the next ID to issue.
type Collection[T any] struct {
	NextID int           `json:"nextid"`
	List   map[string]*T `json:"list"`
}

func newCollection[T any]() Collection[T] {
	return Collection[T]{NextID: 1, List: make(map[string]*T)}
}

func (c *Collection[T]) add(v *T) string {
	if c.List == nil {
		c.List = make(map[string]*T)
	}
	if c.NextID < 1 {
		c.NextID = 1
	}
	id := strconv.Itoa(c.NextID)
	c.NextID++
	c.List[id] = v
	return id
}

func (c *Collection[T]) get(id string) (*T, bool) {
	v, ok := c.List[id]
	return v, ok
}

func (c *Collection[T]) remove(id string) bool {
	if _, ok := c.List[id]; !ok {
		return false
	}
	delete(c.List, id)
	return true
}

// ids returns the collection's IDs in numeric order.
func (c *Collection[T]) ids() []string {
	ids := make([]string, 0, len(c.List))
	for id := range c.List {
		ids = append(ids, id)
	}
	SortIDs(ids)
	return ids
}

// SortIDs orders numeric string IDs numerically, falling back to lexical order.
func SortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})
}
