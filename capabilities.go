/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

// Capabilities tracks which IRCv3 capabilities a connection has negotiated.
type Capabilities struct {
	AccountNotify   bool // Notifies clients when other clients in common channels authenticate or deauthenticate.
	AccountTag      bool // Attach a tag containing the user's account to every message they send.
	AwayNotify      bool // Notifies clients when other clients in common channels go away or come back.
	Batch           bool // Allow server to bundle common messages together.
	CapNotify       bool // Notify when capabilities become available or are no longer available.
	ChgHost         bool // Enables CHGHOST, notifying clients when another client's username/hostname changes.
	EchoMessage     bool // Notifies clients when their PRIVMSG and NOTICEs are correctly received by the server.
	ExtendedJoin    bool // Extends JOIN to include the account name of the joining client.
	InviteNotify    bool // Notifies clients when other clients are invited to common channels.
	LabeledResponse bool // Allows clients to correlate requests with server responses.
	MessageTags     bool // Allows clients and servers to use tags more broadly.
	Metadata        bool // Lets clients store metadata about themselves for other clients to retrieve.
	Monitor         bool // Lets users request notifications for when clients become online/offline.
	MultiPrefix     bool // Sends all prefixes in NAMES and WHO output, highest to lowest rank.
	Multiline       bool // Allows messages that exceed the usual byte length limit and contain line breaks.
	SASL            bool // Indicates support for SASL authentication.
	ServerTime      bool // Lets clients see the actual time messages were received by the server.
	Setname         bool // Lets clients change their realname after connecting.
	TLS             bool // Indicates support for STARTTLS.
	UserhostInNames bool // Extends NAMES to contain the full nickmask, not just the nickname.
}

// Capabilities bitmask flags for CAP negotiation.
const (
	AccountNotify   int = 1 << iota
	AccountTag
	AwayNotify
	Batch
	CapNotify
	ChgHost
	EchoMessage
	ExtendedJoin
	InviteNotify
	LabeledResponse
	MessageTags
	Metadata
	Monitor
	MultiPrefix
	Multiline
	SASL
	ServerTime
	Setname
	TLS
	UserhostInNames
)

// capNames maps the advertised CAP LS token to its bit, used by CAP REQ/ACK/NAK.
var capNames = map[string]int{
	"account-notify":   AccountNotify,
	"account-tag":      AccountTag,
	"away-notify":      AwayNotify,
	"batch":            Batch,
	"cap-notify":       CapNotify,
	"chghost":          ChgHost,
	"echo-message":     EchoMessage,
	"extended-join":    ExtendedJoin,
	"invite-notify":    InviteNotify,
	"labeled-response": LabeledResponse,
	"message-tags":     MessageTags,
	"metadata":         Metadata,
	"monitor":          Monitor,
	"multi-prefix":     MultiPrefix,
	"multiline":        Multiline,
	"sasl":             SASL,
	"server-time":      ServerTime,
	"setname":          Setname,
	"tls":              TLS,
	"userhost-in-names": UserhostInNames,
}

// SASL Types
const (
	SaslPlain uint8 = iota
	SaslLogin
	SaslExternal
	SaslGSSAPI
	SaslCramMD5
	SaslDigestMD5
	SaslScramSHA1
)
