package datastore

import (
	"fmt"
	"strings"
)

// SWUpdate is the legacy firmware update block. Always reports no update.
type SWUpdate struct {
	UpdateState    int             `json:"updatestate"`
	CheckForUpdate bool            `json:"checkforupdate"`
	DeviceTypes    SWUpdateDevices `json:"devicetypes"`
	URL            string          `json:"url"`
	Text           string          `json:"text"`
	Notify         bool            `json:"notify"`
}

type SWUpdateDevices struct {
	Bridge  bool     `json:"bridge"`
	Lights  []string `json:"lights"`
	Sensors []string `json:"sensors"`
}

// SWUpdate2 is the firmware update block of newer API versions.
type SWUpdate2 struct {
	CheckForUpdate bool            `json:"checkforupdate"`
	State          string          `json:"state"`
	Install        bool            `json:"install"`
	AutoInstall    SWAutoInstall   `json:"autoinstall"`
	Bridge         SWUpdate2Bridge `json:"bridge"`
	LastChange     string          `json:"lastchange"`
}

type SWAutoInstall struct {
	UpdateTime string `json:"updatetime"`
	On         bool   `json:"on"`
}

type SWUpdate2Bridge struct {
	State       string `json:"state"`
	LastInstall string `json:"lastinstall"`
}

// Config is the bridge configuration object. Field order matches the API.
type Config struct {
	Name             string          `json:"name"`
	ZigbeeChannel    int             `json:"zigbeechannel"`
	BridgeID         string          `json:"bridgeid"`
	MAC              string          `json:"mac"`
	DHCP             bool            `json:"dhcp"`
	IPAddress        string          `json:"ipaddress"`
	Netmask          string          `json:"netmask"`
	Gateway          string          `json:"gateway"`
	ProxyAddress     string          `json:"proxyaddress"`
	ProxyPort        int             `json:"proxyport"`
	UTC              string          `json:"UTC"`
	LocalTime        string          `json:"localtime"`
	Timezone         string          `json:"timezone"`
	ModelID          string          `json:"modelid"`
	DatastoreVersion string          `json:"datastoreversion"`
	SWVersion        string          `json:"swversion"`
	APIVersion       string          `json:"apiversion"`
	SWUpdate         SWUpdate        `json:"swupdate"`
	SWUpdate2        SWUpdate2       `json:"swupdate2"`
	LinkButton       bool            `json:"linkbutton"`
	PortalServices   bool            `json:"portalservices"`
	PortalConnection string          `json:"portalconnection"`
	FactoryNew       bool            `json:"factorynew"`
	ReplacesBridgeID *string         `json:"replacesbridgeid"`
	StarterKitID     string          `json:"starterkitid"`
	Whitelist        map[string]User `json:"whitelist"`
}

// MinimalConfig is what unauthenticated clients see.
type MinimalConfig struct {
	Name             string  `json:"name"`
	DatastoreVersion string  `json:"datastoreversion"`
	SWVersion        string  `json:"swversion"`
	APIVersion       string  `json:"apiversion"`
	MAC              string  `json:"mac"`
	BridgeID         string  `json:"bridgeid"`
	FactoryNew       bool    `json:"factorynew"`
	ReplacesBridgeID *string `json:"replacesbridgeid"`
	ModelID          string  `json:"modelid"`
	StarterKitID     string  `json:"starterkitid"`
}

// DefaultConfig returns the factory configuration. Network fields are filled in by the datastore.
func DefaultConfig() Config {
	return Config{
		Name:             "NodeRED",
		ZigbeeChannel:    25,
		DHCP:             false,
		ProxyAddress:     "none",
		ProxyPort:        0,
		Timezone:         "Europe/Copenhagen",
		ModelID:          "BSB002",
		DatastoreVersion: "70",
		SWVersion:        "1935144020",
		APIVersion:       "1.35.0",
		SWUpdate: SWUpdate{
			DeviceTypes: SWUpdateDevices{Lights: []string{}, Sensors: []string{}},
		},
		SWUpdate2: SWUpdate2{
			State:       "noupdates",
			AutoInstall: SWAutoInstall{UpdateTime: "T14:00:00"},
			Bridge:      SWUpdate2Bridge{State: "noupdates", LastInstall: "2018-02-02T00:00:00"},
			LastChange:  "2018-02-02T00:00:00",
		},
		PortalConnection: "disconnected",
		StarterKitID:     "",
		Whitelist:        make(map[string]User),
	}
}

// BridgeID derives the bridge ID from a MAC address: aa:bb:cc:dd:ee:ff
// becomes AABBCCFFFEDDEEFF.
func BridgeID(mac string) string {
	hex := strings.ToUpper(strings.ReplaceAll(mac, ":", ""))
	if len(hex) != 12 {
		return hex
	}
	return hex[:6] + "FFFE" + hex[6:]
}

// Serial is the MAC without separators, as used in discovery.
func Serial(mac string) string {
	return strings.ReplaceAll(mac, ":", "")
}

// Network holds the per-instance network parameters. They are not persisted.
type Network struct {
	Address         string
	Netmask         string
	Gateway         string
	MAC             string
	HTTPPort        int
	HTTPSPort       int
	ExternalAddress string
	ExternalPort    int
}

// ExternalURL is the host:port clients should use to reach the bridge.
func (n Network) ExternalURL() string {
	addr := n.Address
	if n.ExternalAddress != "" {
		addr = n.ExternalAddress
	}
	port := n.HTTPPort
	if n.ExternalPort != 0 {
		port = n.ExternalPort
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// AdvertisedPort is the port announced in discovery.
func (n Network) AdvertisedPort() int {
	if n.ExternalPort != 0 {
		return n.ExternalPort
	}
	return n.HTTPPort
}
