/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"fmt"
	"path"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Access enumerates a command's required standing, per spec.md 3's
// Command metadata ("access requirement {NORMAL, OPERATOR,
// SERVER_ONLY}").
type Access uint8

const (
	AccessNormal Access = iota
	AccessOperator
	AccessServerOnly
)

// MessageContext carries one dispatch through its handler chain.
type MessageContext struct {
	Conn *Conn
	User *User
	Msg  *Message
	Spec *CommandSpec

	handler string
	handled bool
	abort   bool
	err     error
}

// Handled signals the router to stop calling further handlers in the
// chain.
func (c *MessageContext) Handled() {
	c.handled = true
}

// AbortWithError aborts the chain and records err for logging.
func (c *MessageContext) AbortWithError(err error) {
	c.abort = true
	c.err = err
}

// MessageHandler processes one step of a command's handler chain.
type MessageHandler func(*MessageContext)

// HandlersChain is an ordered list of MessageHandler.
type HandlersChain []MessageHandler

// CommandSpec is a command's full metadata, per spec.md 3 and 4.6:
// name, parameter bounds, access requirement, pre-registration
// eligibility, penalty cost, and optional comma-list loop-call indices.
type CommandSpec struct {
	Name      string
	MinParams int
	MaxParams int // 0 means "no folding": every token is passed through as its own param

	Access Access

	// WorksBeforeRegistration allows the command to run prior to
	// FULLY_CONNECTED; spec.md 4.3: "Only works_before_registration
	// commands may run prior to FULLY_CONNECTED".
	WorksBeforeRegistration bool

	// Penalty is debited on every successful invocation; spec.md 4.3.
	Penalty time.Duration

	// AllowEmptyLastParam opts out of the "pop an empty trailing
	// parameter before the min-count check" rule in spec.md 4.6.
	AllowEmptyLastParam bool

	// LoopParamIndex, if >= 0, marks a parameter carrying a
	// comma-separated list that the dispatcher iterates per spec.md
	// 4.6's LoopCall pattern. PairedParamIndex, if also >= 0, names a
	// second list (e.g. JOIN's keys) whose shorter length pads with
	// empty strings.
	LoopParamIndex   int
	PairedParamIndex int

	Handlers HandlersChain
}

// Router is the C7 command dispatcher: a command registry plus the
// parameter/penalty/loop-call policy from spec.md 4.6.
type Router struct {
	logger   *logrus.Entry
	commands map[string]*CommandSpec
	hooks    *HookBus
}

// NewRouter constructs an empty dispatcher.
func NewRouter(logger *logrus.Entry) *Router {
	return &Router{
		logger:   logger,
		commands: make(map[string]*CommandSpec),
	}
}

// SetHooks installs the hook bus used for on_post_command.
func (r *Router) SetHooks(h *HookBus) {
	r.hooks = h
}

// Register installs spec under its own (upper-cased) name. Per
// spec.md's "register(command)" contract, registering a name twice is a
// programming error.
func (r *Router) Register(spec CommandSpec) error {
	name := strings.ToUpper(spec.Name)
	if _, exists := r.commands[name]; exists {
		return ErrCommandRegistered
	}
	spec.Name = name
	r.commands[name] = &spec
	return nil
}

// Unregister removes a command, the analogue of spec.md's
// "unregister(command)".
func (r *Router) Unregister(name string) {
	delete(r.commands, strings.ToUpper(name))
}

// Handlers returns a snapshot of registered command names, used by
// diagnostics and tests.
func (r *Router) Handlers() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	return names
}

func nameOfFunction(f MessageHandler) string {
	return path.Base(runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name())
}

// foldParams applies spec.md 4.6's trailing/folding rule: beyond
// spec.MaxParams-1 tokens, everything folds into the last parameter
// (joined with spaces) unless MaxParams == 0, in which case no folding
// happens.
func foldParams(params []string, max int) []string {
	if max <= 0 || len(params) <= max {
		return params
	}
	folded := make([]string, max)
	copy(folded, params[:max-1])
	folded[max-1] = strings.Join(params[max-1:], " ")
	return folded
}

// ProcessBuffer parses one wire line and dispatches it, the C7 public
// contract's "process_buffer(user, line)".
func (r *Router) ProcessBuffer(conn *Conn, line string) {
	msg, err := Parse(line)
	if err != nil {
		if conn.user != nil {
			conn.user.AddPenalty(DefaultPenalty / 5)
		}
		return
	}
	r.RouteCommand(conn, msg)
}

// RouteCommand dispatches an already-parsed Message, enforcing the
// parameter, registration, access, penalty, and loop-call policy from
// spec.md 4.6 before invoking the command's handler chain.
func (r *Router) RouteCommand(conn *Conn, msg *Message) {
	defer msgPool.Recycle(msg)

	log := r.logger.WithField("command", msg.Command)
	spec, exists := r.commands[msg.Command]
	if !exists {
		conn.ReplyUnknownCommand(msg.Command)
		if conn.user != nil {
			conn.user.AddPenalty(DefaultPenalty / 5)
		}
		log.Debug("unknown command")
		return
	}

	user := conn.user

	if !spec.WorksBeforeRegistration && !user.FullyConnected() {
		conn.ReplyNotRegistered()
		return
	}

	if spec.Access == AccessOperator && !user.IsOper() {
		conn.ReplyNoPrivileges()
		return
	}

	params := msg.Params
	if !spec.AllowEmptyLastParam && msg.HasTrailing && msg.Text == "" {
		msg.HasTrailing = false
	}

	effectiveCount := len(params)
	if msg.HasTrailing {
		effectiveCount++
	}
	if effectiveCount < spec.MinParams {
		conn.ReplyNeedMoreParams(msg.Command)
		return
	}

	params = foldParams(params, spec.MaxParams)

	if spec.LoopParamIndex >= 0 && spec.LoopParamIndex < len(params) {
		r.dispatchLoop(conn, msg, spec, params, log)
		return
	}

	r.invoke(conn, user, msg, spec, params, log)
}

// dispatchLoop implements spec.md 4.6's comma-list LoopCall pattern:
// iterate unique, C1-folded tokens from the marked parameter, invoking
// the handler chain once per token with the remaining parameters
// intact. A paired second list (JOIN channels/keys) pads its shorter
// side with empty strings.
func (r *Router) dispatchLoop(conn *Conn, msg *Message, spec *CommandSpec, params []string, log *logrus.Entry) {
	primary := strings.Split(params[spec.LoopParamIndex], ",")

	var paired []string
	if spec.PairedParamIndex >= 0 && spec.PairedParamIndex < len(params) {
		paired = strings.Split(params[spec.PairedParamIndex], ",")
	}

	cm := conn.server.Config().CaseMap
	seen := make(map[string]bool, len(primary))

	for i, token := range primary {
		fold := FoldString(cm, token)
		if seen[fold] {
			continue
		}
		seen[fold] = true

		iterParams := append([]string(nil), params...)
		iterParams[spec.LoopParamIndex] = token
		if paired != nil {
			if i < len(paired) {
				iterParams[spec.PairedParamIndex] = paired[i]
			} else {
				iterParams[spec.PairedParamIndex] = ""
			}
		}

		r.invoke(conn, conn.user, msg, spec, iterParams, log)
	}
}

func (r *Router) invoke(conn *Conn, user *User, msg *Message, spec *CommandSpec, params []string, log *logrus.Entry) {
	ctx := &MessageContext{Conn: conn, User: user, Msg: msg, Spec: spec}
	// Handlers read parameters off ctx.Msg.Params; swap in the
	// folded/loop-iterated slice for the duration of this call.
	orig := msg.Params
	msg.Params = params
	defer func() { msg.Params = orig }()

	for _, h := range spec.Handlers {
		ctx.handler = nameOfFunction(h)
		h(ctx)
		if ctx.err != nil {
			log.Warn(fmt.Errorf("handler %s: %w", ctx.handler, ctx.err))
		}
		if ctx.handled || ctx.abort {
			break
		}
	}

	if user != nil && spec.Penalty > 0 {
		user.AddPenalty(spec.Penalty)
	}
	if user != nil {
		user.Touch(timeNow())
	}

	if r.hooks != nil {
		r.hooks.FireAll(EventPostCommand, ctx)
	}
}

// timeNow is a thin indirection so tests can stub the clock if needed;
// production always uses the wall clock.
var timeNow = func() time.Time { return time.Now() }
