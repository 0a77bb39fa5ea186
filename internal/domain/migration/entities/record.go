package entities

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	migerrors "github.com/Conte777/tg-session-migrator/internal/domain/migration/errors"
)

// JSON keys of the persisted account record
const (
	keyPhone          = "phone"
	keySessionFile    = "session_file"
	keyAppID          = "app_id"
	keyAppHash        = "app_hash"
	keyDevice         = "device"
	keySDK            = "sdk"
	keyAppVersion     = "app_version"
	keyLangPack       = "lang_pack"
	keyLangCode       = "lang_code"
	keySystemLangCode = "system_lang_code"
	keyTwoFA          = "twoFA"
	keyPassword       = "password"
	keyPhoneCodeHash  = "phone_code_hash"
	keyCode           = "code"
)

var knownKeys = []string{
	keyPhone, keySessionFile, keyAppID, keyAppHash, keyDevice, keySDK, keyAppVersion,
	keyLangPack, keyLangCode, keySystemLangCode, keyTwoFA, keyPassword, keyPhoneCodeHash, keyCode,
}

// AccountRecord is the on-disk state of one account under migration.
// The same type describes the target-side record written to the new
// sessions directory once the replacement session exists.
type AccountRecord struct {
	// Key is the filename stem the record was loaded from
	Key string

	Phone       string
	SessionFile string
	Identity    ClientIdentity

	// TwoFA and Password are both optional; TwoFA wins when both are set
	TwoFA    *string
	Password *string

	// In-flight login state, cleared once sign-in completes
	PendingCodeHash string
	PendingCode     string

	// Keys not understood by this tool, preserved on rewrite
	extra map[string]json.RawMessage
}

// SessionName returns the base name of the session file
func (r *AccountRecord) SessionName() string {
	if r.SessionFile != "" {
		return r.SessionFile
	}
	return r.Phone
}

// Secret returns the 2FA password on record, preferring the explicit twoFA field
func (r *AccountRecord) Secret() string {
	if r.TwoFA != nil && *r.TwoFA != "" {
		return *r.TwoFA
	}
	if r.Password != nil {
		return *r.Password
	}
	return ""
}

// SetSecret records a secret that Telegram confirmed
func (r *AccountRecord) SetSecret(secret string) {
	twoFA, password := secret, secret
	r.TwoFA = &twoFA
	r.Password = &password
}

// ClearPending drops the transient login fields
func (r *AccountRecord) ClearPending() {
	r.PendingCodeHash = ""
	r.PendingCode = ""
}

// Validate checks the fields required before any network action
func (r *AccountRecord) Validate() error {
	if r.Phone == "" {
		return migerrors.ErrMissingPhone
	}
	if !r.Identity.Complete() {
		return migerrors.ErrIncompleteIdentity
	}
	return nil
}

// ForNewSession derives the target-side record: same phone, session name,
// secret and extra keys, but the given freshly generated identity.
func (r *AccountRecord) ForNewSession(identity ClientIdentity) *AccountRecord {
	next := r.Clone()
	next.Identity = identity
	next.SessionFile = r.SessionName()
	next.ClearPending()
	return next
}

// Clone returns a deep copy
func (r *AccountRecord) Clone() *AccountRecord {
	c := *r
	if r.TwoFA != nil {
		v := *r.TwoFA
		c.TwoFA = &v
	}
	if r.Password != nil {
		v := *r.Password
		c.Password = &v
	}
	if r.extra != nil {
		c.extra = make(map[string]json.RawMessage, len(r.extra))
		for k, v := range r.extra {
			c.extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &c
}

// EnsureIdentity returns the record with a fully populated identity.
// A record without app credentials gets a generated identity; one with
// credentials gets descriptive defaults for missing fields; one with only
// half of the credentials is rejected. changed reports whether the caller
// must persist the result. Calling it on a complete record is a no-op.
func EnsureIdentity(rec AccountRecord, generate func(seed string) ClientIdentity) (AccountRecord, bool, error) {
	id := rec.Identity
	switch {
	case id.HasCredentials():
		filled, changed := id.withDefaults()
		rec.Identity = filled
		return rec, changed, nil
	case id.AppID == 0 && id.AppHash == "":
		generated := generate(rec.SessionName())
		if !generated.Complete() {
			return rec, false, migerrors.ErrIncompleteIdentity
		}
		rec.Identity = generated
		return rec, true, nil
	default:
		return rec, false, migerrors.ErrIncompleteIdentity
	}
}

// UnmarshalJSON decodes a record leniently: numbers and strings are both
// accepted for phone and app_id, non-string descriptive fields are treated
// as missing, unknown keys are retained.
func (r *AccountRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out AccountRecord
	var err error

	if out.Phone, err = stringOrNumber(raw[keyPhone]); err != nil {
		return fmt.Errorf("field %s: %w", keyPhone, err)
	}
	out.SessionFile = lenientString(raw[keySessionFile])

	appID, err := stringOrNumber(raw[keyAppID])
	if err != nil {
		return fmt.Errorf("field %s: %w", keyAppID, err)
	}
	if appID != "" {
		if out.Identity.AppID, err = strconv.Atoi(appID); err != nil {
			return fmt.Errorf("field %s: %w", keyAppID, err)
		}
	}
	out.Identity.AppHash = lenientString(raw[keyAppHash])
	out.Identity.DeviceModel = lenientString(raw[keyDevice])
	out.Identity.SystemVersion = lenientString(raw[keySDK])
	out.Identity.AppVersion = lenientString(raw[keyAppVersion])
	out.Identity.LangPack = lenientString(raw[keyLangPack])
	out.Identity.LangCode = lenientString(raw[keyLangCode])
	out.Identity.SystemLangCode = lenientString(raw[keySystemLangCode])

	out.TwoFA = optionalString(raw[keyTwoFA])
	out.Password = optionalString(raw[keyPassword])
	out.PendingCodeHash = lenientString(raw[keyPhoneCodeHash])
	out.PendingCode = lenientString(raw[keyCode])

	for _, k := range knownKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		out.extra = raw
	}

	out.Key = r.Key
	*r = out
	return nil
}

// MarshalJSON encodes the record with its original key names
func (r AccountRecord) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.extra)+len(knownKeys))
	for k, v := range r.extra {
		m[k] = v
	}

	m[keyPhone] = r.Phone
	if r.SessionFile != "" {
		m[keySessionFile] = r.SessionFile
	}
	if r.Identity.AppID != 0 {
		m[keyAppID] = r.Identity.AppID
	}
	putString(m, keyAppHash, r.Identity.AppHash)
	putString(m, keyDevice, r.Identity.DeviceModel)
	putString(m, keySDK, r.Identity.SystemVersion)
	putString(m, keyAppVersion, r.Identity.AppVersion)
	putString(m, keyLangPack, r.Identity.LangPack)
	putString(m, keyLangCode, r.Identity.LangCode)
	putString(m, keySystemLangCode, r.Identity.SystemLangCode)
	if r.TwoFA != nil {
		m[keyTwoFA] = *r.TwoFA
	}
	if r.Password != nil {
		m[keyPassword] = *r.Password
	}
	putString(m, keyPhoneCodeHash, r.PendingCodeHash)
	putString(m, keyCode, r.PendingCode)

	return json.Marshal(m)
}

func putString(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func stringOrNumber(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("expected string or number, got %s", raw)
	}
	return n.String(), nil
}

func lenientString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func optionalString(raw json.RawMessage) *string {
	var s *string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return nil
	}
	return s
}
