/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"strconv"
	"strings"
)

// Parse splits one wire-format IRC line (without its trailing CRLF) into a
// *Message pulled from MessagePool. It accepts the full IRCv3 grammar:
//
//	['@' tags SPACE] [':' source SPACE] command [params] [SPACE ':' trailing]
func Parse(data string) (*Message, error) {
	if len(data) == 0 {
		return nil, ErrNotEnoughData
	}
	if len(data) > MaxMsgLength+MaxTagsLength {
		return nil, ErrDataTooLong
	}
	if strings.TrimSpace(data) == "" {
		return nil, ErrWhitespace
	}

	msg := MessagePool.New()

	rest := data

	if rest[0] == '@' {
		end := strings.IndexByte(rest, ' ')
		if end < 0 {
			MessagePool.Recycle(msg)
			return nil, ErrMissingParams
		}
		tagBlob := rest[1:end]
		if len(tagBlob) > MaxTagsLength {
			MessagePool.Recycle(msg)
			return nil, ErrTagsTooLong
		}
		parseTags(msg, tagBlob)
		rest = strings.TrimLeft(rest[end+1:], " ")
	}

	if len(rest) == 0 {
		MessagePool.Recycle(msg)
		return nil, ErrMissingParams
	}

	if rest[0] == ':' {
		end := strings.IndexByte(rest, ' ')
		if end < 0 {
			MessagePool.Recycle(msg)
			return nil, ErrMissingParams
		}
		msg.Source = rest[1:end]
		rest = strings.TrimLeft(rest[end+1:], " ")
	}

	if len(rest) == 0 {
		MessagePool.Recycle(msg)
		return nil, ErrMissingParams
	}

	var trailing string
	hasTrailing := false
	if idx := strings.Index(rest, " :"); idx >= 0 {
		trailing = rest[idx+2:]
		hasTrailing = true
		rest = rest[:idx]
	} else if strings.HasPrefix(rest, ":") {
		trailing = rest[1:]
		hasTrailing = true
		rest = ""
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		MessagePool.Recycle(msg)
		return nil, ErrMissingParams
	}

	verb := fields[0]
	params := fields[1:]
	if len(params) > MaxMsgParams {
		MessagePool.Recycle(msg)
		return nil, ErrTooManyParams
	}

	if code, err := strconv.ParseUint(verb, 10, 16); err == nil && len(verb) == 3 {
		msg.Code = uint16(code)
	} else {
		msg.Command = strings.ToUpper(verb)
	}

	msg.Params = append(msg.Params, params...)
	if hasTrailing {
		msg.Trailing = trailing
		msg.EmptyTrailing = trailing == ""
	}

	return msg, nil
}

// parseTags splits a raw `key=value;key2=value2` tag blob (without the
// leading '@') into msg.Tags, unescaping values per the IRCv3 escape table.
func parseTags(msg *Message, blob string) {
	for _, pair := range strings.Split(blob, ";") {
		if pair == "" {
			continue
		}
		if eq := strings.IndexByte(pair, '='); eq >= 0 {
			msg.SetTag(pair[:eq], unescapeTagValue(pair[eq+1:]))
		} else {
			msg.SetTag(pair, "")
		}
	}
}
