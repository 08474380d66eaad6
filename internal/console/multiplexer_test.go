package console

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func TestConsole(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Console Multiplexer Suite")
}

// fixture installs a zoneConsole for zone without spawning a real PTY,
// since zlogin is not available in this environment. This is enough to
// exercise Subscribe/Write/broadcast/Destroy, which only depend on the
// zoneConsole bookkeeping and not on the spawned process itself.
func fixture(m *Multiplexer, zone string) *zoneConsole {
	zc := &zoneConsole{zone: zone, subscribers: map[string]*subscriber{}}
	m.mu.Lock()
	m.zones[zone] = zc
	m.mu.Unlock()
	return zc
}

var _ = Describe("Multiplexer", func() {
	var m *Multiplexer

	BeforeEach(func() {
		m = NewMultiplexer(zap.NewNop().Sugar())
	})

	It("reports a zone with no session as not alive and rejects subscribe/write", func() {
		Expect(m.IsAlive("web01")).To(BeFalse())

		_, _, _, err := m.Subscribe("web01", "sub1")
		Expect(err).To(MatchError(ErrZoneNotActive))

		Expect(m.Write("web01", []byte("x"))).To(MatchError(ErrZoneNotActive))
	})

	It("fans out broadcast chunks to every subscriber and replays the tail on a later subscribe", func() {
		fixture(m, "web01")

		replay, ch, unsub, err := m.Subscribe("web01", "sub1")
		Expect(err).NotTo(HaveOccurred())
		Expect(replay).To(BeEmpty())
		defer unsub()

		zc := m.zones["web01"]
		m.broadcast(zc, []byte("hello\n"))

		Eventually(ch).Should(Receive(Equal([]byte("hello\n"))))

		// A subscriber joining afterwards replays the accumulated tail.
		replay2, _, unsub2, err := m.Subscribe("web01", "sub2")
		Expect(err).NotTo(HaveOccurred())
		defer unsub2()
		Expect(replay2).To(Equal([]byte("hello\n")))
	})

	It("bounds the replay buffer to replayBufferBytes", func() {
		fixture(m, "web01")
		zc := m.zones["web01"]

		chunk := make([]byte, replayBufferBytes/2+10)
		for i := range chunk {
			chunk[i] = 'a'
		}
		m.broadcast(zc, chunk)
		m.broadcast(zc, chunk)

		zc.mu.Lock()
		size := len(zc.replay)
		zc.mu.Unlock()
		Expect(size).To(BeNumerically("<=", replayBufferBytes))
	})

	It("drops the oldest chunk instead of blocking a full subscriber queue", func() {
		fixture(m, "web01")
		zc := m.zones["web01"]

		sub := &subscriber{
			id:      "slow",
			ch:      make(chan []byte, 1),
			limiter: rate.NewLimiter(rate.Inf, subscriberQueueLen),
		}
		zc.mu.Lock()
		zc.subscribers["slow"] = sub
		zc.mu.Unlock()

		m.broadcast(zc, []byte("first"))
		m.broadcast(zc, []byte("second"))

		Eventually(sub.ch).Should(Receive(Equal([]byte("second"))))
	})

	It("closes every subscriber channel and marks the zone not-alive on Destroy", func() {
		fixture(m, "web01")
		_, ch, _, err := m.Subscribe("web01", "sub1")
		Expect(err).NotTo(HaveOccurred())

		Expect(m.Destroy("web01")).To(Succeed())

		Expect(m.IsAlive("web01")).To(BeFalse())
		Eventually(ch).Should(BeClosed())

		Expect(m.Destroy("web01")).To(MatchError(ErrZoneNotActive))
	})

	It("tracks automation-active state independently of liveness", func() {
		fixture(m, "web01")
		Expect(m.IsAutomationActive("web01")).To(BeFalse())

		m.SetAutomationActive("web01", true)
		Expect(m.IsAutomationActive("web01")).To(BeTrue())

		m.SetAutomationActive("web01", false)
		Expect(m.IsAutomationActive("web01")).To(BeFalse())
	})

	It("DestroyAll tears down every tracked zone", func() {
		fixture(m, "web01")
		fixture(m, "web02")

		m.DestroyAll()

		Expect(m.IsAlive("web01")).To(BeFalse())
		Expect(m.IsAlive("web02")).To(BeFalse())
	})

	It("notifyClosed closes subscribers and marks the zone closed, as pump does on PTY EOF", func() {
		fixture(m, "web01")
		zc := m.zones["web01"]
		_, ch, _, err := m.Subscribe("web01", "sub1")
		Expect(err).NotTo(HaveOccurred())

		m.notifyClosed(zc)

		Eventually(ch).Should(BeClosed())
		Expect(m.IsAlive("web01")).To(BeFalse())

		_, _, _, err = m.Subscribe("web01", "sub2")
		Expect(err).To(MatchError(ErrZoneNotActive))
	})

	It("unsubscribe stops further delivery to that listener without affecting others", func() {
		fixture(m, "web01")
		zc := m.zones["web01"]

		_, ch1, unsub1, err := m.Subscribe("web01", "sub1")
		Expect(err).NotTo(HaveOccurred())
		_, ch2, unsub2, err := m.Subscribe("web01", "sub2")
		Expect(err).NotTo(HaveOccurred())
		defer unsub2()

		unsub1()
		m.broadcast(zc, []byte("ping"))

		Eventually(ch2).Should(Receive(Equal([]byte("ping"))))
		Consistently(ch1, 50*time.Millisecond).ShouldNot(Receive())
	})
})
