package modules

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/huebridge/internal/api"
	"github.com/dokzlo13/huebridge/internal/datastore"
	"github.com/dokzlo13/huebridge/internal/eventbus"
)

// Host is the bridge instance as seen from a script. Every method is called
// on the bridge control loop.
type Host interface {
	BridgeID() string
	Datastore() *datastore.Datastore
	Bus() *eventbus.Bus
	PressLinkButton(d time.Duration)
	Dispatch(method, path string, body []byte) *api.Recorder
}

// BridgeModule exposes device registration, management and event hooks.
type BridgeModule struct {
	host     Host
	handlers int
	detached bool
}

// NewBridgeModule creates a bridge module for host
func NewBridgeModule(host Host) *BridgeModule {
	return &BridgeModule{host: host}
}

// Handlers returns the number of event handlers registered by scripts.
func (m *BridgeModule) Handlers() int {
	return m.handlers
}

// Detach turns every registered handler into a no-op. Bus subscriptions
// cannot be removed, so the Lua state is simply no longer entered.
func (m *BridgeModule) Detach() {
	m.detached = true
}

// Loader is the module loader for Lua
func (m *BridgeModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "id", L.NewFunction(m.id))
	L.SetField(mod, "register_light", L.NewFunction(m.registerLight))
	L.SetField(mod, "register_sensor", L.NewFunction(m.registerSensor))
	L.SetField(mod, "update_sensor", L.NewFunction(m.updateSensor))
	L.SetField(mod, "lights", L.NewFunction(m.lights))
	L.SetField(mod, "light", L.NewFunction(m.light))
	L.SetField(mod, "delete_light", L.NewFunction(m.deleteLight))
	L.SetField(mod, "delete_sensor", L.NewFunction(m.deleteSensor))
	L.SetField(mod, "create_user", L.NewFunction(m.createUser))
	L.SetField(mod, "press_link_button", L.NewFunction(m.pressLinkButton))
	L.SetField(mod, "request", L.NewFunction(m.request))
	L.SetField(mod, "clear", L.NewFunction(m.clear))
	L.SetField(mod, "export", L.NewFunction(m.export))
	L.SetField(mod, "import", L.NewFunction(m.importState))
	L.SetField(mod, "on", L.NewFunction(m.on))

	L.Push(mod)
	return 1
}

// id() -> bridge id
func (m *BridgeModule) id(L *lua.LState) int {
	L.Push(lua.LString(m.host.BridgeID()))
	return 1
}

// register_light(clientid, name?, type?, model?) -> light id
func (m *BridgeModule) registerLight(L *lua.LState) int {
	clientID := L.CheckString(1)
	name := L.OptString(2, "")
	typ := L.OptString(3, datastore.TypeExtendedColor)
	model := L.OptString(4, "")

	id := m.host.Datastore().CreateLight(clientID, name, typ, model)
	log.Debug().Str("bridge", m.host.BridgeID()).Str("client", clientID).Str("id", id).Msg("Light registered from script")
	L.Push(lua.LString(id))
	return 1
}

// register_sensor(type, clientid, name?) -> sensor id | nil, err
func (m *BridgeModule) registerSensor(L *lua.LState) int {
	typ := L.CheckString(1)
	clientID := L.CheckString(2)
	name := L.OptString(3, "")

	id, err := m.host.Datastore().CreateSensor(typ, clientID, name)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(id))
	return 1
}

// update_sensor(id, state) -> true | nil, err
func (m *BridgeModule) updateSensor(L *lua.LState) int {
	id := L.CheckString(1)
	patch := LuaTableToMap(L.CheckTable(2))

	if err := m.host.Datastore().UpdateSensorState(id, patch); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// lights() -> {id = {clientid, type, _typ}}
func (m *BridgeModule) lights(L *lua.LState) int {
	L.Push(ObjectToLua(L, m.host.Datastore().AllLightNodes()))
	return 1
}

// light(id) -> light object | nil
func (m *BridgeModule) light(L *lua.LState) int {
	l, ok := m.host.Datastore().Light(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(ObjectToLua(L, l))
	return 1
}

// delete_light(id) -> bool
func (m *BridgeModule) deleteLight(L *lua.LState) int {
	L.Push(lua.LBool(m.host.Datastore().DeleteLight(L.CheckString(1))))
	return 1
}

// delete_sensor(id) -> bool
func (m *BridgeModule) deleteSensor(L *lua.LState) int {
	L.Push(lua.LBool(m.host.Datastore().DeleteSensor(L.CheckString(1))))
	return 1
}

// create_user(devicetype) -> username
func (m *BridgeModule) createUser(L *lua.LState) int {
	username, _ := m.host.Datastore().CreateUser(L.CheckString(1), false)
	L.Push(lua.LString(username))
	return 1
}

// press_link_button(seconds?)
func (m *BridgeModule) pressLinkButton(L *lua.LState) int {
	seconds := L.OptNumber(1, 0)
	m.host.PressLinkButton(time.Duration(float64(seconds) * float64(time.Second)))
	return 0
}

// request(method, path, body?) -> status, response
//
// Runs a request through the bridge API exactly as an HTTP client would.
func (m *BridgeModule) request(L *lua.LState) int {
	method := L.CheckString(1)
	path := L.CheckString(2)

	var body []byte
	switch b := L.Get(3).(type) {
	case lua.LString:
		body = []byte(b)
	case *lua.LTable:
		data, err := json.Marshal(LuaToGo(b))
		if err != nil {
			L.ArgError(3, err.Error())
			return 0
		}
		body = data
	}

	rec := m.host.Dispatch(method, path, body)
	L.Push(lua.LNumber(rec.Status))

	var decoded any
	if err := json.Unmarshal(rec.Body, &decoded); err != nil {
		L.Push(lua.LString(rec.Body))
		return 2
	}
	L.Push(GoToLuaValue(L, decoded))
	return 2
}

// clear() resets the bridge to factory defaults
func (m *BridgeModule) clear(L *lua.LState) int {
	m.host.Datastore().ClearConfiguration()
	return 0
}

// export() -> JSON document of the whole bridge state
func (m *BridgeModule) export(L *lua.LState) int {
	data, err := m.host.Datastore().Everything()
	if err != nil {
		L.RaiseError("export: %v", err)
		return 0
	}
	L.Push(lua.LString(data))
	return 1
}

// import(json) -> true | nil, err
func (m *BridgeModule) importState(L *lua.LState) int {
	if err := m.host.Datastore().SetEverything([]byte(L.CheckString(1))); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// on(event_type, fn(event)) registers a handler for bridge events. The
// event table has type, id, address, value and object fields.
func (m *BridgeModule) on(L *lua.LState) int {
	eventType := eventbus.EventType(L.CheckString(1))
	fn := L.CheckFunction(2)

	m.handlers++
	m.host.Bus().Subscribe(eventType, func(ev eventbus.Event) {
		if m.detached {
			return
		}
		arg := L.NewTable()
		L.SetField(arg, "type", lua.LString(ev.Type))
		L.SetField(arg, "id", lua.LString(ev.ID))
		L.SetField(arg, "address", lua.LString(ev.Address))
		L.SetField(arg, "value", ObjectToLua(L, ev.Value))
		L.SetField(arg, "object", ObjectToLua(L, ev.Object))

		err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, arg)
		if err != nil {
			log.Error().
				Err(err).
				Str("bridge", m.host.BridgeID()).
				Str("event_type", string(ev.Type)).
				Msg("Lua event handler failed")
		}
	})
	return 0
}
