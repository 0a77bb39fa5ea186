package entities

// Default descriptive identity values applied when a record carries app
// credentials but omits the device description.
const (
	DefaultLangPack       = "tdesktop"
	DefaultLangCode       = "en"
	DefaultSystemLangCode = "en-US"
	DefaultDeviceModel    = "Desktop"
	DefaultSystemVersion  = "Windows 10"
	DefaultAppVersion     = "3.4.3 x64"
)

// ClientIdentity is the application/device metadata a session presents to Telegram
type ClientIdentity struct {
	AppID          int    `json:"app_id"`
	AppHash        string `json:"app_hash"`
	DeviceModel    string `json:"device"`
	SystemVersion  string `json:"sdk"`
	AppVersion     string `json:"app_version"`
	LangPack       string `json:"lang_pack"`
	LangCode       string `json:"lang_code"`
	SystemLangCode string `json:"system_lang_code"`
}

// HasCredentials reports whether both app id and app hash are present
func (i ClientIdentity) HasCredentials() bool {
	return i.AppID != 0 && i.AppHash != ""
}

// Complete reports whether every field is populated
func (i ClientIdentity) Complete() bool {
	return i.HasCredentials() &&
		i.DeviceModel != "" &&
		i.SystemVersion != "" &&
		i.AppVersion != "" &&
		i.LangPack != "" &&
		i.LangCode != "" &&
		i.SystemLangCode != ""
}

// withDefaults fills empty descriptive fields, reporting whether anything changed
func (i ClientIdentity) withDefaults() (ClientIdentity, bool) {
	changed := false
	fill := func(field *string, value string) {
		if *field == "" {
			*field = value
			changed = true
		}
	}
	fill(&i.LangPack, DefaultLangPack)
	fill(&i.LangCode, DefaultLangCode)
	fill(&i.SystemLangCode, DefaultSystemLangCode)
	fill(&i.DeviceModel, DefaultDeviceModel)
	fill(&i.SystemVersion, DefaultSystemVersion)
	fill(&i.AppVersion, DefaultAppVersion)
	return i, changed
}
