package tuyacloud

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sign returns the signature for an OpenAPI request. The
// accessToken is empty for token requests. The url holds the
// request path followed by any query parameters in sorted order.
func Sign(secret, clientID, accessToken, t, method, url string, body []byte) string {
	bodyHash := sha256.Sum256(body)
	stringToSign := method + "\n" +
		hex.EncodeToString(bodyHash[:]) + "\n" +
		"\n" +
		url
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(clientID + accessToken + t + stringToSign))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}
