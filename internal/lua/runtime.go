// Package lua runs the optional per-bridge start-up script.
//
// A script registers emulated lights and sensors, reacts to bridge events and
// performs management operations. All Lua execution happens on the owning
// bridge's control loop, so modules talk to the datastore directly.
package lua

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/huebridge/internal/geo"
	"github.com/dokzlo13/huebridge/internal/lua/modules"
)

// ErrRuntimeClosed is returned when a script is loaded into a closed runtime.
var ErrRuntimeClosed = fmt.Errorf("lua runtime closed")

// Runtime wraps a Lua state bound to one bridge.
type Runtime struct {
	L      *lua.LState
	host   modules.Host
	closed bool

	bridgeModule *modules.BridgeModule
}

// NewRuntime creates a runtime with the log, geo and bridge modules preloaded.
func NewRuntime(host modules.Host, calc *geo.Calculator) *Runtime {
	r := &Runtime{
		L:    lua.NewState(),
		host: host,
	}
	r.registerModules(calc)
	return r
}

func (r *Runtime) registerModules(calc *geo.Calculator) {
	logModule := modules.NewLogModule(r.host.BridgeID())
	r.L.PreloadModule("log", logModule.Loader)

	geoModule := modules.NewGeoModule(r.host, calc)
	r.L.PreloadModule("geo", geoModule.Loader)

	r.bridgeModule = modules.NewBridgeModule(r.host)
	r.L.PreloadModule("bridge", r.bridgeModule.Loader)
}

// LoadScript executes the script at path. Must run on the bridge control loop.
func (r *Runtime) LoadScript(path string) error {
	if r.closed {
		return ErrRuntimeClosed
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("lua script: %w", err)
	}

	log.Info().Str("bridge", r.host.BridgeID()).Str("path", path).Msg("Loading Lua script")

	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}

	log.Info().Str("bridge", r.host.BridgeID()).Int("handlers", r.bridgeModule.Handlers()).Msg("Lua script loaded")
	return nil
}

// DoString executes a chunk of Lua. Must run on the bridge control loop.
func (r *Runtime) DoString(src string) error {
	if r.closed {
		return ErrRuntimeClosed
	}
	return r.L.DoString(src)
}

// Close releases the Lua state. Event handlers registered by the script become no-ops.
func (r *Runtime) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.bridgeModule.Detach()
	r.L.Close()
}
