package submission

import (
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

const idTemplate = "xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx"

// NewID returns a random version 4 UUID. When the system entropy source is
// unavailable it falls back to a pseudo-random string of the same shape.
func NewID() string {
	id, err := uuid.NewRandom()
	if err == nil {
		return id.String()
	}
	logger.Warn("strong random source unavailable, using fallback id", "err", err)
	return fallbackID()
}

func fallbackID() string {
	const hex = "0123456789abcdef"
	var sb strings.Builder
	sb.Grow(len(idTemplate))
	for _, c := range idTemplate {
		switch c {
		case 'x':
			sb.WriteByte(hex[rand.IntN(16)])
		case 'y':
			sb.WriteByte(hex[rand.IntN(4)|0x8])
		default:
			sb.WriteRune(c)
		}
	}
	return sb.String()
}
