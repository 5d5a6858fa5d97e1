package ircd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newStoreTestUser(uid, nick string) *User {
	u := NewUser(uid, nil, MaxNickLength)
	u.setNickLocked(nick)
	return u
}

func TestEntityStoreInsertAndFindUser(t *testing.T) {
	store := NewEntityStore(CaseMapRFC1459)
	u := newStoreTestUser("001AAAAAB", "alice")

	assert.NoError(t, store.InsertUser(u))

	byNick, ok := store.FindUserByNick("ALICE")
	assert.True(t, ok)
	assert.Same(t, u, byNick)

	byUID, ok := store.FindUserByUID("001AAAAAB")
	assert.True(t, ok)
	assert.Same(t, u, byUID)
}

func TestEntityStoreInsertDuplicateNick(t *testing.T) {
	store := NewEntityStore(CaseMapRFC1459)
	assert.NoError(t, store.InsertUser(newStoreTestUser("001AAAAAB", "alice")))

	err := store.InsertUser(newStoreTestUser("001AAAAAC", "Alice"))
	assert.ErrorIs(t, err, ErrDuplicateNick)
}

func TestEntityStoreInsertDuplicateUID(t *testing.T) {
	store := NewEntityStore(CaseMapRFC1459)
	assert.NoError(t, store.InsertUser(newStoreTestUser("001AAAAAB", "alice")))

	err := store.InsertUser(newStoreTestUser("001AAAAAB", "bob"))
	assert.ErrorIs(t, err, ErrDuplicateUID)
}

func TestEntityStoreRenameUser(t *testing.T) {
	store := NewEntityStore(CaseMapRFC1459)
	u := newStoreTestUser("001AAAAAB", "alice")
	assert.NoError(t, store.InsertUser(u))

	assert.NoError(t, store.RenameUser(u, "alicia"))

	_, ok := store.FindUserByNick("alice")
	assert.False(t, ok)
	found, ok := store.FindUserByNick("alicia")
	assert.True(t, ok)
	assert.Same(t, u, found)
}

func TestEntityStoreRenameUserCollision(t *testing.T) {
	store := NewEntityStore(CaseMapRFC1459)
	assert.NoError(t, store.InsertUser(newStoreTestUser("001AAAAAB", "alice")))
	bob := newStoreTestUser("001AAAAAC", "bob")
	assert.NoError(t, store.InsertUser(bob))

	err := store.RenameUser(bob, "Alice")
	assert.ErrorIs(t, err, ErrNickInUse)
}

func TestEntityStoreRemoveUser(t *testing.T) {
	store := NewEntityStore(CaseMapRFC1459)
	u := newStoreTestUser("001AAAAAB", "alice")
	assert.NoError(t, store.InsertUser(u))

	store.RemoveUser(u)

	_, ok := store.FindUserByNick("alice")
	assert.False(t, ok)
	_, ok = store.FindUserByUID("001AAAAAB")
	assert.False(t, ok)
}

func TestEntityStoreChannelLifecycle(t *testing.T) {
	store := NewEntityStore(CaseMapRFC1459)
	c := NewChannel("#test")

	assert.NoError(t, store.InsertChannel(c))
	assert.ErrorIs(t, store.InsertChannel(NewChannel("#Test")), ErrDuplicateChan)

	found, ok := store.FindChannel("#TEST")
	assert.True(t, ok)
	assert.Same(t, c, found)

	store.RemoveChannel(c)
	_, ok = store.FindChannel("#test")
	assert.False(t, ok)
}

func TestEntityStoreEachUserAndChannel(t *testing.T) {
	store := NewEntityStore(CaseMapRFC1459)
	assert.NoError(t, store.InsertUser(newStoreTestUser("001AAAAAB", "alice")))
	assert.NoError(t, store.InsertUser(newStoreTestUser("001AAAAAC", "bob")))
	assert.NoError(t, store.InsertChannel(NewChannel("#one")))
	assert.NoError(t, store.InsertChannel(NewChannel("#two")))

	var nicks []string
	store.EachUser(func(u *User) { nicks = append(nicks, u.Nick()) })
	assert.ElementsMatch(t, []string{"alice", "bob"}, nicks)

	var names []string
	store.EachChannel(func(c *Channel) { names = append(names, c.Name()) })
	assert.ElementsMatch(t, []string{"#one", "#two"}, names)
}

func TestEntityStoreServerLifecycle(t *testing.T) {
	store := NewEntityStore(CaseMapRFC1459)
	srv := &ServerLink{Name: "hub.example.net", SID: "42X"}

	assert.NoError(t, store.InsertServer(srv))

	byName, ok := store.FindServer("HUB.EXAMPLE.NET")
	assert.True(t, ok)
	assert.Same(t, srv, byName)

	bySID, ok := store.FindServerBySID("42X")
	assert.True(t, ok)
	assert.Same(t, srv, bySID)

	store.RemoveServer(srv)
	_, ok = store.FindServer("hub.example.net")
	assert.False(t, ok)
}

func TestEntityStoreRebuildIndices(t *testing.T) {
	store := NewEntityStore(CaseMapRFC1459)
	u := newStoreTestUser("001AAAAAB", "nick{one}")
	assert.NoError(t, store.InsertUser(u))
	c := NewChannel("#chan{x}")
	assert.NoError(t, store.InsertChannel(c))

	store.RebuildIndices(CaseMapASCII)

	assert.Equal(t, CaseMapASCII, store.CaseMap())

	found, ok := store.FindUserByNick("nick{one}")
	assert.True(t, ok)
	assert.Same(t, u, found)

	foundChan, ok := store.FindChannel("#chan{x}")
	assert.True(t, ok)
	assert.Same(t, c, foundChan)
}
