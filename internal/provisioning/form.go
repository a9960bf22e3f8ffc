package provisioning

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/muurk/sidelights/internal/credstore"
	"github.com/muurk/sidelights/internal/fault"
)

// Form field names
const (
	FieldSSID     = "ssid"
	FieldPassword = "password"
)

// ParseForm decodes an ssid/password pair from a urlencoded body.
//
// The grammar is tolerant: pairs are separated by '&', a pair without '='
// has an empty value, unknown keys are ignored and the first occurrence of
// a key wins. Decoded fields are bounds-checked, never truncated.
func ParseForm(body []byte) (credstore.Record, error) {
	var rec credstore.Record
	seen := make(map[string]bool, 2)

	for _, pair := range strings.Split(string(body), "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")

		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return credstore.Record{}, fault.NewConfigError(fmt.Sprintf("malformed field name %q", rawKey))
		}
		if key != FieldSSID && key != FieldPassword {
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return credstore.Record{}, fault.NewConfigError(fmt.Sprintf("malformed %s value", key))
		}

		switch key {
		case FieldSSID:
			rec.SSID = value
		case FieldPassword:
			rec.Password = value
		}
	}

	if !seen[FieldSSID] {
		return credstore.Record{}, fault.NewConfigError("ssid is required")
	}
	if err := rec.Validate(); err != nil {
		return credstore.Record{}, err
	}
	return rec, nil
}

// EncodeForm builds the request body accepted by ParseForm
func EncodeForm(rec credstore.Record) string {
	v := url.Values{}
	v.Set(FieldSSID, rec.SSID)
	v.Set(FieldPassword, rec.Password)
	return v.Encode()
}
