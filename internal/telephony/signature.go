package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
)

// ValidateTwilioSignature checks X-Twilio-Signature: base64 HMAC-SHA1 keyed by
// the auth token over the full URL followed by each POST parameter name and
// value, sorted by name.
func ValidateTwilioSignature(authToken, fullURL string, form url.Values, signature string) error {
	if signature == "" {
		return ErrInvalidSignature
	}
	expected := TwilioSignature(authToken, fullURL, form)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// TwilioSignature computes the value Twilio sends in X-Twilio-Signature.
func TwilioSignature(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mac := hmac.New(sha1.New, []byte(authToken))
	_, _ = mac.Write([]byte(fullURL))
	for _, k := range keys {
		for _, v := range form[k] {
			_, _ = mac.Write([]byte(k + v))
		}
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
