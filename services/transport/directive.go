package transport

import (
	"bytes"
	"strconv"

	"sensorlink-go/types"
	"sensorlink-go/x/timex"
)

var samplerateTag = []byte(`samplerate="`)

// ParseDirective looks for samplerate="<seconds>" in a response body. The
// value must start with a digit; anything else leaves the interval alone.
func ParseDirective(body []byte) types.Directive {
	i := bytes.Index(body, samplerateTag)
	if i < 0 {
		return types.Directive{}
	}
	rest := body[i+len(samplerateTag):]
	end := bytes.IndexByte(rest, '"')
	if end < 0 {
		return types.Directive{}
	}
	text := rest[:end]
	if len(text) == 0 || text[0] < '0' || text[0] > '9' {
		return types.Directive{}
	}
	secs, err := strconv.ParseFloat(string(text), 64)
	if err != nil {
		return types.Directive{}
	}
	return types.Directive{Interval: timex.Seconds(secs)}
}

// FormatDirective renders the response fragment ParseDirective reads.
func FormatDirective(d types.Directive) string {
	if d.None() {
		return ""
	}
	return `<span samplerate="` + strconv.FormatFloat(d.Interval.Seconds(), 'f', -1, 64) + `"></span>`
}
