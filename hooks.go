/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import "sort"

// Verdict is a hook listener's answer for a result-bearing event, per
// spec.md 4.7.
type Verdict uint8

const (
	Passthru Verdict = iota
	Allow
	Deny
)

// EventKind enumerates the typed events the core fires.
type EventKind string

const (
	EventPreCommand        EventKind = "pre_command"
	EventPostCommand       EventKind = "post_command"
	EventPreMessage        EventKind = "pre_message"
	EventPostMessage       EventKind = "post_message"
	EventPreJoin           EventKind = "pre_join"
	EventPostJoin          EventKind = "post_join"
	EventPrePart           EventKind = "pre_part"
	EventPostPart          EventKind = "post_part"
	EventPreNick           EventKind = "pre_nick"
	EventPostNick          EventKind = "post_nick"
	EventPreMode           EventKind = "pre_mode"
	EventPostMode          EventKind = "post_mode"
	EventCheckBan          EventKind = "check_ban"
	EventCheckKey          EventKind = "check_key"
	EventCheckLimit        EventKind = "check_limit"
	EventCheckInvite       EventKind = "check_invite"
	EventChannelPreDelete  EventKind = "channel_pre_delete"
	EventChannelDelete     EventKind = "channel_delete"
	EventUserPreRegister   EventKind = "user_pre_register"
	EventUserRegister      EventKind = "user_register"
	EventUserQuit          EventKind = "user_quit"
)

// Priority orders listeners within one event kind. Ties break on
// registration order, matching spec.md 4.7 ("explicit priorities...
// ties break on registration order").
type Priority struct {
	Kind  PriorityKind
	Other string // module name for Before/After; empty for First/Last
}

type PriorityKind uint8

const (
	PriorityLast PriorityKind = iota
	PriorityFirst
	PriorityBefore
	PriorityAfter
)

// HookFunc is a listener callback. It receives an opaque payload (the
// concrete type depends on the event kind) and returns a verdict; for
// fan-out events the verdict is ignored.
type HookFunc func(payload any) Verdict

type listener struct {
	module string
	order  int
	pri    Priority
	fn     HookFunc
}

// HookBus is the C9 event/hook bus: modules subscribe to typed events
// with a priority, and the core fires them at the documented points.
type HookBus struct {
	listeners map[EventKind][]*listener
	seq       int
}

// NewHookBus constructs an empty bus.
func NewHookBus() *HookBus {
	return &HookBus{listeners: make(map[EventKind][]*listener)}
}

// Subscribe registers fn for kind under module's name with the given
// priority.
func (b *HookBus) Subscribe(kind EventKind, module string, pri Priority, fn HookFunc) {
	b.seq++
	l := &listener{module: module, order: b.seq, pri: pri, fn: fn}
	b.listeners[kind] = append(b.listeners[kind], l)
	b.reorder(kind)
}

// Unsubscribe removes every listener registered by module for kind.
// Per spec.md 4.7, callers should only do this when the bus is
// quiescent with respect to that module.
func (b *HookBus) Unsubscribe(kind EventKind, module string) {
	ls := b.listeners[kind]
	out := ls[:0]
	for _, l := range ls {
		if l.module != module {
			out = append(out, l)
		}
	}
	b.listeners[kind] = out
}

func (b *HookBus) reorder(kind EventKind) {
	ls := b.listeners[kind]
	byModule := make(map[string]int, len(ls))
	for i, l := range ls {
		byModule[l.module] = i
	}
	sort.SliceStable(ls, func(i, j int) bool {
		pi, pj := rank(ls[i].pri, byModule, ls), rank(ls[j].pri, byModule, ls)
		if pi != pj {
			return pi < pj
		}
		return ls[i].order < ls[j].order
	})
}

// rank gives a coarse sort key: First listeners sort before everything,
// Last after everything, Before/After are approximated relative to
// registration order of their named module (a full topological sort is
// unnecessary for the small, static listener sets the core ships with).
func rank(p Priority, byModule map[string]int, ls []*listener) int {
	switch p.Kind {
	case PriorityFirst:
		return -1
	case PriorityLast:
		return 1
	case PriorityBefore:
		if idx, ok := byModule[p.Other]; ok {
			return idx - 1
		}
		return 0
	case PriorityAfter:
		if idx, ok := byModule[p.Other]; ok {
			return idx + 1
		}
		return 0
	default:
		return 0
	}
}

// Fire runs every listener for kind in priority order and returns the
// first non-Passthru verdict, or Passthru if every listener passed.
// Used for result-bearing events (spec.md 4.7).
func (b *HookBus) Fire(kind EventKind, payload any) Verdict {
	for _, l := range b.listeners[kind] {
		if v := l.fn(payload); v != Passthru {
			return v
		}
	}
	return Passthru
}

// FireAll runs every listener for kind regardless of verdict, for
// fan-out events (post-join, post-message, ...).
func (b *HookBus) FireAll(kind EventKind, payload any) {
	for _, l := range b.listeners[kind] {
		l.fn(payload)
	}
}
