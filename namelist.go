/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

// sendNames emits the 353/366 namelist sequence for one channel, splitting
// the member list across as many 353 lines as the byte cap requires. The
// end-of-names numeric is sent even for an empty or invisible channel.
func sendNames(server *Server, c *Conn, ch *Channel) {
	multiPrefix := c.User != nil && c.User.HasCap(MultiPrefix)
	userhost := c.User != nil && c.User.HasCap(UserhostInNames)

	symbol := "="
	switch {
	case ch.HasMode(CModeSecret):
		symbol = "@"
	case ch.HasMode(CModePrivate):
		symbol = "*"
	}

	builder := NewReplyBuilder(server, c, ReplyNames)
	builder.Prefix(symbol, ch.Name)
	for _, m := range ch.Members() {
		entry := m.User.Nick()
		if userhost {
			entry = m.User.Mask()
		}
		if multiPrefix {
			entry = m.Rank().AllPrefixes() + entry
		} else {
			entry = m.Rank().Prefix() + entry
		}
		builder.Add(entry)
	}
	builder.Flush()

	c.ReplyNumeric(server, ReplyEndOfNames, ch.Name, "End of NAMES list")
}
