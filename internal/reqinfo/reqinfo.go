package reqinfo

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/gofiber/fiber/v2"
)

// RequestContext carries the request-derived values used for token
// fingerprinting and audit entries. It is resolved once per request and
// treated as opaque input everywhere else.
type RequestContext struct {
	OriginAddress   string
	ClientSignature string
	CoarseLocation  string
}

func FromFiber(c *fiber.Ctx) RequestContext {
	location := c.Get("CF-IPCountry")
	if location == "" {
		location = c.Get("X-Geo-Country")
	}
	if location == "" {
		location = "unknown"
	}

	return RequestContext{
		OriginAddress:   c.IP(),
		ClientSignature: c.Get("User-Agent"),
		CoarseLocation:  location,
	}
}

// Fingerprint derives the value binding a session token to the client
// context that requested it.
func (rc RequestContext) Fingerprint() string {
	sum := sha256.Sum256([]byte(rc.OriginAddress + "|" + rc.ClientSignature))
	return hex.EncodeToString(sum[:])
}
