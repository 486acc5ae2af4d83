/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"bytes"
	"strings"

	"github.com/hollowbright/ircd/shared/itempool"
	"github.com/hollowbright/ircd/shared/pool"
)

// Message represents one parsed IRC protocol line: an optional tags block,
// an optional source prefix, a command (either a textual verb or a numeric
// reply Code), middle parameters, and an optional trailing parameter.
type Message struct {
	Tags     map[string]string
	Source   string
	Command  string
	Code     uint16
	Params   []string
	Trailing string

	// EmptyTrailing records that the line carried a trailing marker with
	// no text after it, so parse-then-serialize preserves the boundary.
	EmptyTrailing bool
}

// HasTrailing reports whether the message carried a trailing parameter,
// even an empty one.
func (m *Message) HasTrailing() bool {
	return m.Trailing != "" || m.EmptyTrailing
}

// Scrub resets a Message to its zero state so it's safe to recycle via
// MessagePool.
func (m *Message) Scrub() {
	if len(m.Tags) > 0 {
		clear(m.Tags)
	}
	m.Source = ""
	m.Command = ""
	m.Code = 0
	m.Params = m.Params[:0]
	m.Trailing = ""
	m.EmptyTrailing = false
}

// MessagePool recycles *Message values across the connection read path.
var MessagePool = itempool.New[*Message](256, func() *Message {
	return &Message{Params: make([]string, 0, MaxMsgParams)}
})

// bufferPool recycles the *bytes.Buffer used by RenderBuffer; *bytes.Buffer
// already satisfies pool.Resettable via its own Reset method.
var bufferPool = pool.New[*bytes.Buffer](func() *bytes.Buffer {
	return new(bytes.Buffer)
})

// HasTag reports whether the message carries the given IRCv3 tag.
func (m *Message) HasTag(key string) bool {
	_, ok := m.Tags[key]
	return ok
}

// Tag returns the value of the given IRCv3 tag, if present.
func (m *Message) Tag(key string) (string, bool) {
	v, ok := m.Tags[key]
	return v, ok
}

// SetTag sets an IRCv3 tag on the message, allocating the tag map on first use.
func (m *Message) SetTag(key, value string) {
	if m.Tags == nil {
		m.Tags = make(map[string]string)
	}
	m.Tags[key] = value
}

// Render serializes the message into wire format, terminated with CRLF.
func (m *Message) Render() string {
	buf := bufferPool.New()
	defer bufferPool.Recycle(buf)
	m.RenderBuffer(buf)
	return buf.String()
}

// RenderBuffer writes the wire representation of the message into buf,
// terminated with CRLF. The command is written from Code if Command is
// empty (numeric reply), otherwise from Command.
func (m *Message) RenderBuffer(buf *bytes.Buffer) {
	if len(m.Tags) > 0 {
		buf.WriteByte('@')
		first := true
		for k, v := range m.Tags {
			if !first {
				buf.WriteByte(';')
			}
			first = false
			buf.WriteString(k)
			if v != "" {
				buf.WriteByte('=')
				buf.WriteString(escapeTagValue(v))
			}
		}
		buf.WriteByte(' ')
	}

	if m.Source != "" {
		buf.WriteByte(':')
		buf.WriteString(m.Source)
		buf.WriteByte(' ')
	}

	if m.Command != "" {
		buf.WriteString(m.Command)
	} else {
		buf.WriteString(padNumeric(m.Code))
	}

	for _, p := range m.Params {
		buf.WriteByte(' ')
		buf.WriteString(p)
	}

	if m.Trailing != "" || m.EmptyTrailing || (m.Command == CmdPrivMsg || m.Command == CmdNotice) {
		buf.WriteString(" :")
		buf.WriteString(m.Trailing)
	}

	buf.WriteString("\r\n")
}

// Debug renders a human-readable form for logging, without CRLF.
func (m *Message) Debug() string {
	return strings.TrimRight(m.Render(), "\r\n")
}

func padNumeric(code uint16) string {
	const digits = "0123456789"
	if code > 999 {
		code = 999
	}
	return string([]byte{
		digits[code/100],
		digits[(code/10)%10],
		digits[code%10],
	})
}

// escapeTagValue implements the IRCv3 message-tags escape alphabet:
// \: \s \\ \r \n for ';', ' ', '\\', CR, LF respectively.
func escapeTagValue(v string) string {
	if !strings.ContainsAny(v, ";\\ \r\n") {
		return v
	}
	var b strings.Builder
	b.Grow(len(v) + 4)
	for _, r := range v {
		switch r {
		case ';':
			b.WriteString(`\:`)
		case ' ':
			b.WriteString(`\s`)
		case '\\':
			b.WriteString(`\\`)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// unescapeTagValue implements the inverse of escapeTagValue. An unrecognized
// escape sequence \x is unescaped to the literal character x, and a trailing
// lone backslash is dropped, per the IRCv3 spec.
func unescapeTagValue(v string) string {
	if !strings.ContainsRune(v, '\\') {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	runes := []rune(v)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '\\' || i+1 >= len(runes) {
			if runes[i] != '\\' {
				b.WriteRune(runes[i])
			}
			continue
		}
		i++
		switch runes[i] {
		case ':':
			b.WriteByte(';')
		case 's':
			b.WriteByte(' ')
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		default:
			b.WriteRune(runes[i])
		}
	}
	return b.String()
}
