package sms

import (
	"encoding/xml"
	"strings"
)

// TwiMLEmpty is the no-reply acknowledgement.
const TwiMLEmpty = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// TwiMLReply renders a single-message TwiML response, escaping the body.
func TwiMLReply(body string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(body))
	return `<?xml version="1.0" encoding="UTF-8"?><Response><Message>` + b.String() + `</Message></Response>`
}
