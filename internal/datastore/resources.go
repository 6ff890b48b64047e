package datastore

// CreateScene creates an empty scene owned by owner.
func (d *Datastore) CreateScene(owner string) string {
	s := &Scene{
		Type:        "LightScene",
		Lights:      []string{},
		Owner:       owner,
		AppData:     map[string]any{},
		LastUpdated: d.DateString(),
		Version:     2,
		LightStates: map[string]StatePatch{},
	}
	id := d.state.Scenes.add(s)
	d.markDirty(keyScenes)
	return id
}

// Scene returns the scene with the given ID.
func (d *Datastore) Scene(id string) (*Scene, bool) {
	return d.state.Scenes.get(id)
}

// AllScenes returns every scene keyed by ID.
func (d *Datastore) AllScenes() map[string]*Scene {
	return d.state.Scenes.List
}

// UpdateScene stores s under id.
func (d *Datastore) UpdateScene(id string, s *Scene) {
	s.LastUpdated = d.DateString()
	d.state.Scenes.List[id] = s
	d.markDirty(keyScenes)
}

// DeleteScene removes a scene.
func (d *Datastore) DeleteScene(id string) bool {
	if !d.state.Scenes.remove(id) {
		return false
	}
	d.markDirty(keyScenes)
	return true
}

// CreateRule creates an empty rule owned by owner.
func (d *Datastore) CreateRule(owner string) string {
	r := &Rule{
		Owner:         owner,
		Created:       d.DateString(),
		LastTriggered: "none",
		Status:        "enabled",
		Conditions:    []Condition{},
		Actions:       []Action{},
	}
	id := d.state.Rules.add(r)
	d.markDirty(keyRules)
	return id
}

// Rule returns the rule with the given ID.
func (d *Datastore) Rule(id string) (*Rule, bool) {
	return d.state.Rules.get(id)
}

// AllRules returns every rule keyed by ID.
func (d *Datastore) AllRules() map[string]*Rule {
	return d.state.Rules.List
}

// AllRuleIDs returns rule IDs in numeric order.
func (d *Datastore) AllRuleIDs() []string {
	return d.state.Rules.ids()
}

// UpdateRule stores r under id.
func (d *Datastore) UpdateRule(id string, r *Rule) {
	d.state.Rules.List[id] = r
	d.markDirty(keyRules)
}

// DeleteRule removes a rule.
func (d *Datastore) DeleteRule(id string) bool {
	if !d.state.Rules.remove(id) {
		return false
	}
	d.markDirty(keyRules)
	return true
}

// CreateSchedule creates an enabled schedule with no command.
func (d *Datastore) CreateSchedule() string {
	s := &Schedule{
		Created: d.DateString(),
		Status:  "enabled",
		Command: Command{Body: []byte("{}")},
	}
	id := d.state.Schedules.add(s)
	s.Name = "Schedule " + id
	d.markDirty(keySchedules)
	return id
}

// Schedule returns the schedule with the given ID.
func (d *Datastore) Schedule(id string) (*Schedule, bool) {
	return d.state.Schedules.get(id)
}

// AllSchedules returns every schedule keyed by ID.
func (d *Datastore) AllSchedules() map[string]*Schedule {
	return d.state.Schedules.List
}

// AllScheduleIDs returns schedule IDs in numeric order.
func (d *Datastore) AllScheduleIDs() []string {
	return d.state.Schedules.ids()
}

// UpdateSchedule stores s under id.
func (d *Datastore) UpdateSchedule(id string, s *Schedule) {
	d.state.Schedules.List[id] = s
	d.markDirty(keySchedules)
}

// DeleteSchedule removes a schedule.
func (d *Datastore) DeleteSchedule(id string) bool {
	if !d.state.Schedules.remove(id) {
		return false
	}
	d.markDirty(keySchedules)
	return true
}

// CreateResourcelink creates an empty resource link owned by owner.
func (d *Datastore) CreateResourcelink(owner string) string {
	r := &Resourcelink{
		Type:  "Link",
		Owner: owner,
		Links: []string{},
	}
	id := d.state.Resourcelinks.add(r)
	d.markDirty(keyResourcelinks)
	return id
}

// Resourcelink returns the resource link with the given ID.
func (d *Datastore) Resourcelink(id string) (*Resourcelink, bool) {
	return d.state.Resourcelinks.get(id)
}

// AllResourcelinks returns every resource link keyed by ID.
func (d *Datastore) AllResourcelinks() map[string]*Resourcelink {
	return d.state.Resourcelinks.List
}

// UpdateResourcelink stores r under id.
func (d *Datastore) UpdateResourcelink(id string, r *Resourcelink) {
	d.state.Resourcelinks.List[id] = r
	d.markDirty(keyResourcelinks)
}

// DeleteResourcelink removes a resource link.
func (d *Datastore) DeleteResourcelink(id string) bool {
	if !d.state.Resourcelinks.remove(id) {
		return false
	}
	d.markDirty(keyResourcelinks)
	return true
}
