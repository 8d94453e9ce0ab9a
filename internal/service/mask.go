package service

import (
	"strings"
	"unicode/utf8"

	"autodelivery-api/internal/model"
)

const maskedSecret = "********"

// MaskPayload hides the sensitive parts of a delivered payload for first display.
// Masking is a display default, not an access control.
func MaskPayload(p model.Payload) model.Payload {
	masked := p
	if p.Password != "" {
		masked.Password = maskedSecret
	}
	if p.Notes != "" {
		masked.Notes = maskedSecret
	}
	masked.Email = maskEmail(p.Email)
	masked.Key = maskKey(p.Key)
	return masked
}

// maskEmail keeps the first character of the local part and the whole domain.
func maskEmail(email string) string {
	if email == "" {
		return ""
	}
	local, domain, hasDomain := strings.Cut(email, "@")
	first, _ := utf8.DecodeRuneInString(local)

	out := "***"
	if first != utf8.RuneError {
		out = string(first) + out
	}
	if hasDomain {
		out += "@" + domain
	}
	return out
}

// maskKey keeps the last four characters visible.
func maskKey(key string) string {
	runes := []rune(key)
	if len(runes) == 0 {
		return ""
	}
	if len(runes) <= 4 {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", len(runes)-4) + string(runes[len(runes)-4:])
}

// presentDelivery returns the record as a viewer should see it: masked until revealed.
func presentDelivery(d model.DeliveredItem) model.DeliveredItem {
	if !d.IsRevealed {
		d.DeliveredData = MaskPayload(d.DeliveredData)
	}
	return d
}
