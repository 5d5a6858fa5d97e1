package ircd

import (
	"io"
	"net"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newTestRouter() *Router {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewRouter(logger.WithField("component", "test"))
}

func TestRouterRegisterAndUnregister(t *testing.T) {
	r := newTestRouter()
	assert.NoError(t, r.Register(CommandSpec{Name: "ping", LoopParamIndex: -1, PairedParamIndex: -1}))
	assert.Contains(t, r.Handlers(), "PING")

	err := r.Register(CommandSpec{Name: "PING", LoopParamIndex: -1, PairedParamIndex: -1})
	assert.ErrorIs(t, err, ErrCommandRegistered)

	r.Unregister("ping")
	assert.NotContains(t, r.Handlers(), "PING")
}

func TestFoldParamsNoFoldWhenMaxZero(t *testing.T) {
	in := []string{"a", "b", "c"}
	assert.Equal(t, in, foldParams(in, 0))
}

func TestFoldParamsFoldsExcessIntoLast(t *testing.T) {
	in := []string{"a", "b", "c", "d"}
	out := foldParams(in, 3)
	assert.Equal(t, []string{"a", "b", "c d"}, out)
}

func TestFoldParamsUnderLimitUnchanged(t *testing.T) {
	in := []string{"a", "b"}
	assert.Equal(t, in, foldParams(in, 3))
}

func newTestConn(t *testing.T) *Conn {
	t.Helper()
	srv, err := NewServer()
	assert.NoError(t, err)

	client, _ := net.Pipe()
	conn := NewConn(srv, client)
	return conn
}

func TestRouteCommandDispatchesLoopCallOverCommaList(t *testing.T) {
	conn := newTestConn(t)
	conn.user.MarkFullyConnected()

	var invocations []string
	spec := CommandSpec{
		Name:                    "TESTLOOP",
		MinParams:               1,
		MaxParams:               2,
		WorksBeforeRegistration: true,
		LoopParamIndex:          0,
		PairedParamIndex:        1,
		Handlers: HandlersChain{
			func(ctx *MessageContext) {
				invocations = append(invocations, ctx.Msg.Params[0]+":"+ctx.Msg.Params[1])
				ctx.Handled()
			},
		},
	}
	assert.NoError(t, conn.server.router.Register(spec))

	msg := &Message{Command: "TESTLOOP", Params: []string{"#a,#b,#a", "key1,key2"}}
	conn.server.router.RouteCommand(conn, msg)

	assert.Equal(t, []string{"#a:key1", "#b:key2"}, invocations)
}

func TestRouteCommandRejectsBeforeRegistration(t *testing.T) {
	conn := newTestConn(t)

	called := false
	spec := CommandSpec{
		Name:             "TESTGATED",
		LoopParamIndex:   -1,
		PairedParamIndex: -1,
		Handlers: HandlersChain{
			func(ctx *MessageContext) { called = true },
		},
	}
	assert.NoError(t, conn.server.router.Register(spec))

	msg := &Message{Command: "TESTGATED"}
	conn.server.router.RouteCommand(conn, msg)

	assert.False(t, called)
}

func TestRouteCommandEnforcesMinParams(t *testing.T) {
	conn := newTestConn(t)
	conn.user.MarkFullyConnected()

	called := false
	spec := CommandSpec{
		Name:                    "TESTMIN",
		MinParams:               1,
		WorksBeforeRegistration: true,
		LoopParamIndex:          -1,
		PairedParamIndex:        -1,
		Handlers: HandlersChain{
			func(ctx *MessageContext) { called = true },
		},
	}
	assert.NoError(t, conn.server.router.Register(spec))

	msg := &Message{Command: "TESTMIN"}
	conn.server.router.RouteCommand(conn, msg)

	assert.False(t, called)
}
