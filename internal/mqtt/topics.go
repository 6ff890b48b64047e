package mqtt

import (
	"strings"

	"github.com/dokzlo13/huebridge/internal/eventbus"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "huebridge"

// EventTopic is where events of one kind are mirrored.
//
// Example: huebridge/AABBCCFFFEDDEEFF/events/light-state-modified
func EventTopic(prefix, bridgeID string, kind eventbus.EventType) string {
	return prefix + "/" + bridgeID + "/events/" + string(kind)
}

// LightStateTopic carries the retained state of one emulated light.
//
// Example: huebridge/AABBCCFFFEDDEEFF/lights/1/state
func LightStateTopic(prefix, bridgeID, lightID string) string {
	return prefix + "/" + bridgeID + "/lights/" + lightID + "/state"
}

// SensorStateSetTopic accepts JSON state patches for a sensor.
func SensorStateSetTopic(prefix, bridgeID, sensorID string) string {
	return prefix + "/" + bridgeID + "/sensors/" + sensorID + "/state/set"
}

// LinkButtonSetTopic accepts "true" or "false".
func LinkButtonSetTopic(prefix, bridgeID string) string {
	return prefix + "/" + bridgeID + "/linkbutton/set"
}

// commandFilters are the subscriptions covering every bridge under prefix.
func commandFilters(prefix string) []string {
	return []string{
		SensorStateSetTopic(prefix, "+", "+"),
		LinkButtonSetTopic(prefix, "+"),
	}
}

// CommandKind identifies an inbound command.
type CommandKind int

const (
	CommandSensorState CommandKind = iota + 1
	CommandLinkButton
)

// Command is a parsed inbound topic.
type Command struct {
	Kind     CommandKind
	BridgeID string
	SensorID string
}

// ParseCommand maps an inbound topic to a command.
func ParseCommand(prefix, topic string) (Command, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return Command{}, false
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 5 && parts[1] == "sensors" && parts[3] == "state" && parts[4] == "set":
		return Command{Kind: CommandSensorState, BridgeID: parts[0], SensorID: parts[2]}, true
	case len(parts) == 3 && parts[1] == "linkbutton" && parts[2] == "set":
		return Command{Kind: CommandLinkButton, BridgeID: parts[0]}, true
	}
	return Command{}, false
}
