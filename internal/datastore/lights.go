package datastore

import "fmt"

// CreateLight registers a light for clientID. Registering the same client
// again updates its name, type and model and returns the existing ID.
func (d *Datastore) CreateLight(clientID, name, typ, modelID string) string {
	if modelID == "" {
		modelID = DefaultLightModel
	}
	typeName, ok := LightTypeName(typ)
	if !ok {
		typeName = lightTypeNames[TypeExtendedColor]
		typ = TypeExtendedColor
	}

	for _, id := range d.state.Lights.ids() {
		l := d.state.Lights.List[id]
		if l.ClientID != clientID {
			continue
		}
		l.Typ = typ
		l.Type = typeName
		l.ModelID = modelID
		if name != "" {
			l.Name = name
		}
		d.markDirty(keyLights)
		return id
	}

	l := &Light{
		State:            DefaultLightState(),
		Type:             typeName,
		Name:             name,
		ModelID:          modelID,
		ManufacturerName: "NodeRED",
		SWVersion:        "1.0",
		Typ:              typ,
		ClientID:         clientID,
	}
	id := d.state.Lights.add(l)
	l.UniqueID = lightUniqueID(d.net.MAC, id)
	if l.Name == "" {
		l.Name = "Light " + id
	}
	d.markDirty(keyLights)
	return id
}

func lightUniqueID(mac, id string) string {
	if len(id) < 2 {
		id = "0" + id
	}
	return mac + "-" + id
}

// Light returns the light with the given ID.
func (d *Datastore) Light(id string) (*Light, bool) {
	return d.state.Lights.get(id)
}

// AllLights returns every light keyed by ID.
func (d *Datastore) AllLights() map[string]*Light {
	return d.state.Lights.List
}

// AllLightIDs returns light IDs in numeric order.
func (d *Datastore) AllLightIDs() []string {
	return d.state.Lights.ids()
}

// AllLightNodes returns the management view of every light.
func (d *Datastore) AllLightNodes() map[string]LightNode {
	nodes := make(map[string]LightNode, len(d.state.Lights.List))
	for id, l := range d.state.Lights.List {
		nodes[id] = LightNode{ClientID: l.ClientID, Type: l.Type, Typ: l.Typ}
	}
	return nodes
}

// UpdateLight stores l under id.
func (d *Datastore) UpdateLight(id string, l *Light) {
	d.state.Lights.List[id] = l
	d.markDirty(keyLights)
}

// UpdateLightState replaces the state of a light.
func (d *Datastore) UpdateLightState(id string, state LightState) error {
	l, ok := d.state.Lights.get(id)
	if !ok {
		return fmt.Errorf("light %s: %w", id, ErrNotFound)
	}
	l.State = state
	d.markDirty(keyLights)
	return nil
}

// DeleteLight removes a light and its references from groups and scenes.
// Only the management path calls this; the API refuses light deletion.
func (d *Datastore) DeleteLight(id string) bool {
	if !d.state.Lights.remove(id) {
		return false
	}
	for _, g := range d.state.Groups.List {
		g.Lights = without(g.Lights, id)
	}
	for _, s := range d.state.Scenes.List {
		s.Lights = without(s.Lights, id)
		delete(s.LightStates, id)
	}
	d.markDirty(keyLights, keyGroups, keyScenes)
	return true
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// CreateGroup creates an empty group.
func (d *Datastore) CreateGroup() string {
	g := &Group{
		Lights: []string{},
		Type:   "LightGroup",
		Action: map[string]any{"on": false},
	}
	id := d.state.Groups.add(g)
	g.Name = "Group " + id
	d.markDirty(keyGroups)
	return id
}

// Group returns the group with the given ID. Group 0 is virtual and never stored.
func (d *Datastore) Group(id string) (*Group, bool) {
	return d.state.Groups.get(id)
}

// AllGroups returns every stored group keyed by ID.
func (d *Datastore) AllGroups() map[string]*Group {
	return d.state.Groups.List
}

// UpdateGroup stores g under id.
func (d *Datastore) UpdateGroup(id string, g *Group) {
	d.state.Groups.List[id] = g
	d.markDirty(keyGroups)
}

// DeleteGroup removes a group.
func (d *Datastore) DeleteGroup(id string) bool {
	if !d.state.Groups.remove(id) {
		return false
	}
	d.markDirty(keyGroups)
	return true
}

// GroupZero describes the virtual group holding every light.
func (d *Datastore) GroupZero() *Group {
	lights := d.AllLightIDs()
	g := &Group{
		Name:   "Group 0",
		Lights: lights,
		Type:   "LightGroup",
		Action: map[string]any{"on": false},
	}
	d.summarize(g)
	return g
}

// summarize refreshes all_on and any_on from the member lights.
func (d *Datastore) summarize(g *Group) {
	allOn, anyOn := len(g.Lights) > 0, false
	for _, id := range g.Lights {
		l, ok := d.state.Lights.get(id)
		if !ok || !l.State.On {
			allOn = false
			continue
		}
		anyOn = true
	}
	g.State = GroupState{AllOn: allOn, AnyOn: anyOn}
}

// RefreshGroup recomputes the summary state of a stored group.
func (d *Datastore) RefreshGroup(id string) {
	if g, ok := d.state.Groups.get(id); ok {
		d.summarize(g)
		d.markDirty(keyGroups)
	}
}
