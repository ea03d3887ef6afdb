package cryptohook

import (
	"fmt"
	"regexp"
	"strings"
)

// event is the decrypted callback payload. Only text messages are
// forwarded upstream; other types are acknowledged and dropped.
type event struct {
	MsgType      string
	Content      string
	FromUserName string
	MsgID        string
}

// fieldPatterns match one XML element by name, supporting both
// CDATA-wrapped and plain text values. The map is populated once in
// init and read-only afterwards; extractField runs on concurrent
// request goroutines.
var fieldPatterns = map[string]*regexp.Regexp{}

func compileFieldPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?s)<%s>(?:<!\[CDATA\[(.*?)\]\]>|(.*?))</%s>`, name, name))
}

func fieldPattern(name string) *regexp.Regexp {
	if re, ok := fieldPatterns[name]; ok {
		return re
	}
	return compileFieldPattern(name)
}

func init() {
	for _, name := range []string{"Encrypt", "MsgType", "Content", "FromUserName", "MsgId"} {
		fieldPatterns[name] = compileFieldPattern(name)
	}
}

// extractField returns the value of the named element, whether CDATA
// wrapped or plain, or "" when absent.
func extractField(xml, name string) string {
	m := fieldPattern(name).FindStringSubmatch(xml)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// parseEvent extracts the fields the gateway cares about from the
// decrypted XML payload.
func parseEvent(xml []byte) event {
	s := string(xml)
	return event{
		MsgType:      strings.TrimSpace(extractField(s, "MsgType")),
		Content:      extractField(s, "Content"),
		FromUserName: strings.TrimSpace(extractField(s, "FromUserName")),
		MsgID:        strings.TrimSpace(extractField(s, "MsgId")),
	}
}
