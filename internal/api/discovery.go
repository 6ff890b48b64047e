package api

import (
	"encoding/xml"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huebridge/internal/datastore"
)

// Discovery serves the UPnP device description referenced by SSDP.
type Discovery struct {
	ds *datastore.Datastore
}

func (h *Discovery) Name() string { return "discovery" }

func (h *Discovery) Routes() []route {
	return []route{
		newRoute("get", `^/description\.xml$`, h.description),
	}
}

// UUIDPrefix precedes the bridge serial in UPnP identifiers.
const UUIDPrefix = "uuid:2f402f80-da50-11e1-9b23-"

type xmlIcon struct {
	MimeType string `xml:"mimetype"`
	Height   int    `xml:"height"`
	Width    int    `xml:"width"`
	Depth    int    `xml:"depth"`
	URL      string `xml:"url"`
}

type xmlDevice struct {
	DeviceType       string    `xml:"deviceType"`
	FriendlyName     string    `xml:"friendlyName"`
	Manufacturer     string    `xml:"manufacturer"`
	ManufacturerURL  string    `xml:"manufacturerURL"`
	ModelDescription string    `xml:"modelDescription"`
	ModelName        string    `xml:"modelName"`
	ModelNumber      string    `xml:"modelNumber"`
	ModelURL         string    `xml:"modelURL"`
	SerialNumber     string    `xml:"serialNumber"`
	UDN              string    `xml:"UDN"`
	PresentationURL  string    `xml:"presentationURL"`
	Icons            []xmlIcon `xml:"iconList>icon"`
}

type xmlSpecVersion struct {
	Major int `xml:"major"`
	Minor int `xml:"minor"`
}

type xmlRoot struct {
	XMLName     xml.Name       `xml:"urn:schemas-upnp-org:device-1-0 root"`
	SpecVersion xmlSpecVersion `xml:"specVersion"`
	URLBase     string         `xml:"URLBase"`
	Device      xmlDevice      `xml:"device"`
}

// DescriptionXML renders the device description of a bridge.
func DescriptionXML(netw datastore.Network) ([]byte, error) {
	serial := datastore.Serial(netw.MAC)
	doc := xmlRoot{
		SpecVersion: xmlSpecVersion{Major: 1, Minor: 0},
		URLBase:     "http://" + netw.ExternalURL() + "/",
		Device: xmlDevice{
			DeviceType:       "urn:schemas-upnp-org:device:Basic:1",
			FriendlyName:     "Philips hue (" + netw.Address + ")",
			Manufacturer:     "Royal Philips Electronics",
			ManufacturerURL:  "http://www.philips.com",
			ModelDescription: "Philips hue Personal Wireless Lighting",
			ModelName:        "Philips hue bridge 2015",
			ModelNumber:      "BSB002",
			ModelURL:         "http://www.meethue.com",
			SerialNumber:     serial,
			UDN:              UUIDPrefix + serial,
			PresentationURL:  "index.html",
			Icons: []xmlIcon{
				{MimeType: "image/png", Height: 48, Width: 48, Depth: 24, URL: "hue_logo_0.png"},
				{MimeType: "image/png", Height: 120, Width: 120, Depth: 24, URL: "hue_logo_3.png"},
			},
		},
	}
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

func (h *Discovery) description(w ResponseWriter, r *Request, m []string) {
	body, err := DescriptionXML(h.ds.Network())
	if err != nil {
		log.Error().Err(err).Msg("Failed to render description.xml")
		writeError(w, ErrInternal, "/description.xml")
		return
	}
	w.Write(200, "application/xml", body)
}
