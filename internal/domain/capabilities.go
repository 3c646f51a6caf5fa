package domain

// Capability names a declared peer flag. These are the only fields a
// presence update may change.
type Capability string

const (
	CapMic    Capability = "mic"
	CapCamera Capability = "camera"
	CapScreen Capability = "screen"
	CapTyping Capability = "typing"
)

// Capabilities holds the low-frequency flags a peer declares about
// itself. Mutated only by presence updates received on the peer's own
// transport; last write wins per field.
type Capabilities struct {
	Mic    bool `json:"mic"`
	Camera bool `json:"camera"`
	Screen bool `json:"screen"`
	Typing bool `json:"typing"`
}

func (c *Capabilities) Set(field Capability, value bool) bool {
	switch field {
	case CapMic:
		c.Mic = value
	case CapCamera:
		c.Camera = value
	case CapScreen:
		c.Screen = value
	case CapTyping:
		c.Typing = value
	default:
		return false
	}
	return true
}

func (c Capabilities) Get(field Capability) bool {
	switch field {
	case CapMic:
		return c.Mic
	case CapCamera:
		return c.Camera
	case CapScreen:
		return c.Screen
	case CapTyping:
		return c.Typing
	}
	return false
}
