/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"fmt"
	"time"
)

// Snotice topics. Each is one of the 26 lowercase letters; the matching
// uppercase letter addresses the network-wide variant of the same topic
// (meaningless without a link layer, but reserved in the mask layout:
// bits 0-25 lowercase, 26-51 uppercase).
const (
	SnoConnect = 'c'
	SnoFlood   = 'a'
	SnoKill    = 'k'
	SnoOper    = 'o'
	SnoDebug   = 'd'
)

// snoBit maps a topic letter onto its bit in User.Snomask.
func snoBit(topic byte) uint32 {
	switch {
	case topic >= 'a' && topic <= 'z':
		return 1 << (topic - 'a')
	case topic >= 'A' && topic <= 'Z':
		return 1 << (26 + topic - 'A')
	default:
		return 0
	}
}

// SnoticeBus distributes server notices to subscribed operators, keyed by
// topic letter, coalescing consecutive identical messages into a repeat
// counter instead of flooding subscribers.
type SnoticeBus struct {
	server *Server

	lastMessage map[byte]string
	repeats     map[byte]int
}

// NewSnoticeBus constructs the bus for a server.
func NewSnoticeBus(server *Server) *SnoticeBus {
	return &SnoticeBus{
		server:      server,
		lastMessage: make(map[byte]string),
		repeats:     make(map[byte]int),
	}
}

// Notef formats and emits a notice on the given topic.
func (bus *SnoticeBus) Notef(topic byte, format string, args ...any) {
	bus.Note(topic, fmt.Sprintf(format, args...))
}

// Note emits a notice on the given topic. A message identical to the
// previous one on the same topic increments a coalescing counter instead
// of being delivered; the counter is flushed as a "last message repeated"
// line when a different message arrives or the periodic flush fires.
func (bus *SnoticeBus) Note(topic byte, text string) {
	if bus.lastMessage[topic] == text {
		bus.repeats[topic]++
		return
	}

	bus.flushTopic(topic)
	bus.lastMessage[topic] = text
	bus.deliver(topic, text)
}

func (bus *SnoticeBus) flushTopic(topic byte) {
	if n := bus.repeats[topic]; n > 0 {
		bus.repeats[topic] = 0
		bus.deliver(topic, fmt.Sprintf("(last message repeated %d times)", n))
	}
}

// FlushAll empties every topic's coalesced counter. Fired periodically so
// a repeated message's count is never held back longer than the flush
// interval.
func (bus *SnoticeBus) FlushAll() {
	for topic := range bus.repeats {
		bus.flushTopic(topic)
		delete(bus.lastMessage, topic)
	}
}

// StartFlushing registers the periodic flush on the shared timer wheel.
func (bus *SnoticeBus) StartFlushing(timers *TimerWheel) {
	timers.Schedule(snoticeFlushInterval, func(time.Time) time.Duration {
		bus.FlushAll()
		return snoticeFlushInterval
	})
}

// deliver renders the notice once and queues it to every subscribed
// operator, mirroring a copy to the process log.
func (bus *SnoticeBus) deliver(topic byte, text string) {
	if log != nil {
		log.WithField("snomask", string(topic)).Info(text)
	}
	bus.server.metrics.Snotices.Inc()

	msg := MessagePool.New()
	msg.Source = bus.server.Name()
	msg.Command = CmdNotice
	msg.Params = append(msg.Params, "*")
	msg.Trailing = fmt.Sprintf("*** Notice -- %s", text)
	shared := newChunk([]byte(msg.Render()))
	MessagePool.Recycle(msg)

	bit := snoBit(topic)
	_ = bus.server.Users.ForEach(func(_ string, u *User) error {
		if u.IsOper() && u.Snomask()&bit != 0 {
			u.SendChunk(shared)
		}
		return nil
	})
	shared.release()
}
