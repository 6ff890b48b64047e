package datastore

// Color modes.
const (
	ColorModeHS = "hs"
	ColorModeCT = "ct"
	ColorModeXY = "xy"
)

// StatePatch is a partial light state update. Nil fields are absent.
type StatePatch struct {
	On             *bool       `json:"on,omitempty"`
	Bri            *int        `json:"bri,omitempty"`
	BriInc         *int        `json:"bri_inc,omitempty"`
	Hue            *int        `json:"hue,omitempty"`
	HueInc         *int        `json:"hue_inc,omitempty"`
	Sat            *int        `json:"sat,omitempty"`
	SatInc         *int        `json:"sat_inc,omitempty"`
	CT             *int        `json:"ct,omitempty"`
	CTInc          *int        `json:"ct_inc,omitempty"`
	XY             *[2]float64 `json:"xy,omitempty"`
	XYInc          *[2]float64 `json:"xy_inc,omitempty"`
	ColorMode      *string     `json:"colormode,omitempty"`
	Effect         *string     `json:"effect,omitempty"`
	Alert          *string     `json:"alert,omitempty"`
	TransitionTime *int        `json:"transitiontime,omitempty"`
	Scene          *string     `json:"scene,omitempty"`
}

// DefaultLightState is the state of a freshly registered light.
func DefaultLightState() LightState {
	return LightState{
		On:             false,
		Bri:            254,
		Hue:            0,
		Sat:            0,
		Effect:         "none",
		XY:             [2]float64{0.3127, 0.3290},
		CT:             366,
		Alert:          "none",
		ColorMode:      ColorModeCT,
		TransitionTime: 4,
		Reachable:      true,
	}
}

// Apply merges p into s. An absolute value is stored as given and wins over
// its increment; only increments are clamped or wrapped. Setting a color
// field forces the matching color mode, which is also written back into p.
// report is called for every field that was applied, in order.
func (s *LightState) Apply(p *StatePatch, report func(field string, value any)) {
	if report == nil {
		report = func(string, any) {}
	}
	forced := ""

	if p.On != nil {
		s.On = *p.On
		report("on", s.On)
	}

	if p.Bri != nil {
		s.Bri = *p.Bri
		report("bri", s.Bri)
	} else if p.BriInc != nil {
		s.Bri = clampInt(s.Bri+*p.BriInc, 1, 254)
		report("bri", s.Bri)
	}

	if p.Hue != nil {
		s.Hue = *p.Hue
		forced = ColorModeHS
		report("hue", s.Hue)
	} else if p.HueInc != nil {
		s.Hue = ((s.Hue+*p.HueInc)%65536 + 65536) % 65536
		forced = ColorModeHS
		report("hue", s.Hue)
	}

	if p.Sat != nil {
		s.Sat = *p.Sat
		forced = ColorModeHS
		report("sat", s.Sat)
	} else if p.SatInc != nil {
		s.Sat = clampInt(s.Sat+*p.SatInc, 0, 254)
		forced = ColorModeHS
		report("sat", s.Sat)
	}

	if p.CT != nil {
		s.CT = *p.CT
		forced = ColorModeCT
		report("ct", s.CT)
	} else if p.CTInc != nil {
		s.CT = clampInt(s.CT+*p.CTInc, 153, 500)
		forced = ColorModeCT
		report("ct", s.CT)
	}

	if p.XY != nil {
		s.XY = *p.XY
		forced = ColorModeXY
		report("xy", s.XY)
	} else if p.XYInc != nil {
		s.XY = [2]float64{
			clampFloat(s.XY[0]+p.XYInc[0], 0, 1),
			clampFloat(s.XY[1]+p.XYInc[1], 0, 1),
		}
		forced = ColorModeXY
		report("xy", s.XY)
	}

	if forced != "" {
		mode := forced
		p.ColorMode = &mode
	}
	if p.ColorMode != nil {
		s.ColorMode = *p.ColorMode
		report("colormode", s.ColorMode)
	}

	if p.Effect != nil {
		s.Effect = *p.Effect
		report("effect", s.Effect)
	}
	if p.Alert != nil {
		s.Alert = *p.Alert
		report("alert", s.Alert)
	}
	if p.TransitionTime != nil {
		s.TransitionTime = *p.TransitionTime
		report("transitiontime", s.TransitionTime)
	}
}

// Snapshot captures the parts of s a scene stores: power, brightness, effect
// and the color fields of the active color mode.
func (s LightState) Snapshot() StatePatch {
	on := s.On
	bri := s.Bri
	effect := s.Effect
	p := StatePatch{On: &on, Bri: &bri, Effect: &effect}
	switch s.ColorMode {
	case ColorModeHS:
		hue, sat := s.Hue, s.Sat
		p.Hue, p.Sat = &hue, &sat
	case ColorModeCT:
		ct := s.CT
		p.CT = &ct
	case ColorModeXY:
		xy := s.XY
		p.XY = &xy
	}
	return p
}

// Clone returns a deep copy of p.
func (p StatePatch) Clone() StatePatch {
	c := p
	c.On = clonePtr(p.On)
	c.Bri = clonePtr(p.Bri)
	c.BriInc = clonePtr(p.BriInc)
	c.Hue = clonePtr(p.Hue)
	c.HueInc = clonePtr(p.HueInc)
	c.Sat = clonePtr(p.Sat)
	c.SatInc = clonePtr(p.SatInc)
	c.CT = clonePtr(p.CT)
	c.CTInc = clonePtr(p.CTInc)
	c.XY = clonePtr(p.XY)
	c.XYInc = clonePtr(p.XYInc)
	c.ColorMode = clonePtr(p.ColorMode)
	c.Effect = clonePtr(p.Effect)
	c.Alert = clonePtr(p.Alert)
	c.TransitionTime = clonePtr(p.TransitionTime)
	c.Scene = clonePtr(p.Scene)
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
