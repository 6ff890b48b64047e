package datastore

// Resource limits reported by /capabilities.
const (
	maxLights        = 63
	maxSensors       = 250
	maxGroups        = 64
	maxScenes        = 200
	maxLightStates   = 12600
	maxSchedules     = 100
	maxRules         = 250
	maxConditions    = 1500
	maxActions       = 1000
	maxResourcelinks = 64
)

// Timezones is the list reported by /capabilities/timezones.
var Timezones = []string{
	"CET", "UTC", "GMT", "EST", "MST", "HST",
	"Africa/Cairo", "Africa/Johannesburg", "Africa/Lagos", "Africa/Nairobi",
	"America/Anchorage", "America/Argentina/Buenos_Aires", "America/Bogota",
	"America/Chicago", "America/Denver", "America/Halifax", "America/Los_Angeles",
	"America/Mexico_City", "America/New_York", "America/Phoenix", "America/Sao_Paulo",
	"America/Toronto", "America/Vancouver",
	"Asia/Bangkok", "Asia/Dubai", "Asia/Hong_Kong", "Asia/Jakarta", "Asia/Jerusalem",
	"Asia/Kolkata", "Asia/Seoul", "Asia/Shanghai", "Asia/Singapore", "Asia/Tokyo",
	"Atlantic/Reykjavik",
	"Australia/Adelaide", "Australia/Brisbane", "Australia/Perth", "Australia/Sydney",
	"Europe/Amsterdam", "Europe/Athens", "Europe/Berlin", "Europe/Brussels",
	"Europe/Copenhagen", "Europe/Dublin", "Europe/Helsinki", "Europe/Istanbul",
	"Europe/Lisbon", "Europe/London", "Europe/Madrid", "Europe/Moscow", "Europe/Oslo",
	"Europe/Paris", "Europe/Prague", "Europe/Rome", "Europe/Stockholm", "Europe/Vienna",
	"Europe/Warsaw", "Europe/Zurich",
	"Pacific/Auckland", "Pacific/Honolulu",
}

func available(total, used int) map[string]any {
	free := total - used
	if free < 0 {
		free = 0
	}
	return map[string]any{"available": free, "total": total}
}

// Capabilities reports resource usage against the bridge limits.
func (d *Datastore) Capabilities() map[string]any {
	lightStates := 0
	for _, s := range d.state.Scenes.List {
		lightStates += len(s.LightStates)
	}
	conditions, actions := 0, 0
	for _, r := range d.state.Rules.List {
		conditions += len(r.Conditions)
		actions += len(r.Actions)
	}

	sensors := available(maxSensors, len(d.state.Sensors.List))
	sensors["clip"] = available(maxSensors, len(d.state.Sensors.List))
	sensors["zll"] = available(64, 0)
	sensors["zgp"] = available(64, 0)

	scenes := available(maxScenes, len(d.state.Scenes.List))
	scenes["lightstates"] = available(maxLightStates, lightStates)

	rules := available(maxRules, len(d.state.Rules.List))
	rules["conditions"] = available(maxConditions, conditions)
	rules["actions"] = available(maxActions, actions)

	return map[string]any{
		"lights":        available(maxLights, len(d.state.Lights.List)),
		"sensors":       sensors,
		"groups":        available(maxGroups, len(d.state.Groups.List)),
		"scenes":        scenes,
		"schedules":     available(maxSchedules, len(d.state.Schedules.List)),
		"rules":         rules,
		"resourcelinks": available(maxResourcelinks, len(d.state.Resourcelinks.List)),
		"streaming":     map[string]any{"available": 1, "total": 1, "channels": 10},
		"timezones":     map[string]any{"values": Timezones},
	}
}
