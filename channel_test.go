package ircd

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestChannel(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Channel Suite")
}

func newTestUser(nick string) *User {
	u := NewUser("001AAAAAB", nil, MaxNickLength)
	u.SetName("someuser")
	u.SetRealHost("irc.somehost.org")
	u.setNickLocked(nick)
	return u
}

var _ = Describe("Channel", func() {
	var (
		channel *Channel
		founder *User
		joiner  *User
	)

	BeforeEach(func() {
		channel = NewChannel("#test")
		founder = newTestUser("founder")
		joiner = newTestUser("joiner")

		m := channel.Join(founder, FoldString(CaseMapRFC1459, founder.Nick()))
		m.Rank = RankFounder
		founder.AddMembership(FoldString(CaseMapRFC1459, channel.Name()), m)
	})

	Describe("Join", func() {
		It("admits a second user at RankNone", func() {
			m := channel.Join(joiner, FoldString(CaseMapRFC1459, joiner.Nick()))
			Expect(m.Rank).To(Equal(RankNone))
			Expect(channel.MemberCount()).To(Equal(2))
		})

		It("is idempotent for an already-present member", func() {
			channel.Join(joiner, FoldString(CaseMapRFC1459, joiner.Nick()))
			before := channel.MemberCount()
			channel.Join(joiner, FoldString(CaseMapRFC1459, joiner.Nick()))
			_, already := channel.Find(FoldString(CaseMapRFC1459, joiner.Nick()))
			Expect(already).To(BeTrue())
			Expect(channel.MemberCount()).To(Equal(before))
		})
	})

	Describe("Remove", func() {
		It("drops the membership and empties the channel", func() {
			channel.Remove(FoldString(CaseMapRFC1459, founder.Nick()))
			Expect(channel.Empty()).To(BeTrue())
		})
	})

	Describe("Bans", func() {
		It("matches a banned hostmask", func() {
			channel.AddBan("*!*@irc.somehost.org", founder.Hostmask())
			Expect(channel.Banned(joiner, CaseMapRFC1459)).To(BeTrue())
		})

		It("lets an except override a ban", func() {
			channel.AddBan("*!*@irc.somehost.org", founder.Hostmask())
			channel.AddExcept("*!*@irc.somehost.org", founder.Hostmask())
			Expect(channel.Banned(joiner, CaseMapRFC1459)).To(BeFalse())
		})

		It("refuses a duplicate ban entry", func() {
			Expect(channel.AddBan("*!*@host", "setter")).To(BeTrue())
			Expect(channel.AddBan("*!*@host", "setter")).To(BeFalse())
		})
	})

	Describe("Modes", func() {
		It("tracks a simple bool mode", func() {
			channel.AddMode(ChanModeInviteOnly)
			Expect(channel.ModeIsSet(ChanModeInviteOnly)).To(BeTrue())
			channel.DelMode(ChanModeInviteOnly)
			Expect(channel.ModeIsSet(ChanModeInviteOnly)).To(BeFalse())
		})

		It("stores a key and limit", func() {
			channel.SetKey("hunter2")
			channel.SetLimit(5)
			Expect(channel.Key()).To(Equal("hunter2"))
			Expect(channel.Limit()).To(Equal(5))
		})
	})

	Describe("Topic", func() {
		It("round-trips text and setter", func() {
			channel.SetTopic("hello world", founder.Hostmask())
			text, setter, _ := channel.Topic()
			Expect(text).To(Equal("hello world"))
			Expect(setter).To(Equal(founder.Hostmask()))
		})
	})
})
