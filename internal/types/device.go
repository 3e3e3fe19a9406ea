package types

// Device identifies the installation reporting events.
// Decorator and registration snapshots read it; nothing mutates it after start.
type Device struct {
	ID         string `json:"device_id"`
	AppNS      string `json:"app_ns"`
	OSVersion  string `json:"os_version"`
	DeviceType string `json:"device_type"`
	Platform   string `json:"platform"`
}

// OS renders the platform and version the way event_os expects ("linux 6.1").
func (d Device) OS() string {
	if d.OSVersion == "" {
		return d.Platform
	}
	return d.Platform + " " + d.OSVersion
}
