package credentials_test

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/tether/pkg/credentials"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var _ = Describe("Cache", func() {
	var (
		clock *fakeClock
		cache *credentials.Cache
	)

	BeforeEach(func() {
		clock = &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
		cache = credentials.NewCache(time.Hour, credentials.WithClock(clock.Now))
	})

	It("starts empty", func() {
		_, ok := cache.Get()
		Expect(ok).To(BeFalse())
	})

	It("returns the value until the TTL elapses", func() {
		cache.Set("token-1")

		clock.Advance(59 * time.Minute)
		v, ok := cache.Get()
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("token-1"))

		clock.Advance(time.Minute)
		_, ok = cache.Get()
		Expect(ok).To(BeFalse())
	})

	It("restarts the TTL on every Set", func() {
		cache.Set("token-1")
		clock.Advance(50 * time.Minute)
		cache.Set("token-2")
		clock.Advance(50 * time.Minute)

		v, ok := cache.Get()
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("token-2"))
	})

	It("drops the entry on Delete", func() {
		cache.Set("token-1")
		cache.Delete()

		_, ok := cache.Get()
		Expect(ok).To(BeFalse())
		_, ok = cache.Expiry()
		Expect(ok).To(BeFalse())
	})

	Describe("SetUntil", func() {
		It("uses the earlier explicit expiry", func() {
			cache.SetUntil("token", clock.Now().Add(10*time.Minute))

			exp, ok := cache.Expiry()
			Expect(ok).To(BeTrue())
			Expect(exp).To(Equal(clock.Now().Add(10 * time.Minute)))

			clock.Advance(10 * time.Minute)
			_, ok = cache.Get()
			Expect(ok).To(BeFalse())
		})

		It("never extends past the TTL", func() {
			cache.SetUntil("token", clock.Now().Add(48*time.Hour))

			exp, ok := cache.Expiry()
			Expect(ok).To(BeTrue())
			Expect(exp).To(Equal(clock.Now().Add(time.Hour)))
		})

		It("treats a zero expiry like Set", func() {
			cache.SetUntil("token", time.Time{})

			exp, ok := cache.Expiry()
			Expect(ok).To(BeTrue())
			Expect(exp).To(Equal(clock.Now().Add(time.Hour)))
		})
	})

	It("is safe for concurrent use", func() {
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				for range 100 {
					cache.Set("token")
					cache.Get()
					cache.Delete()
				}
			}()
		}
		wg.Wait()
	})
})

var _ = Describe("TokenExpiry", func() {
	sign := func(claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	It("reads the exp claim", func() {
		exp := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
		got, ok := credentials.TokenExpiry(sign(jwt.MapClaims{"exp": exp.Unix()}))
		Expect(ok).To(BeTrue())
		Expect(got.Equal(exp)).To(BeTrue())
	})

	It("reports false when the claim is missing", func() {
		_, ok := credentials.TokenExpiry(sign(jwt.MapClaims{"sub": "user"}))
		Expect(ok).To(BeFalse())
	})

	It("reports false for opaque tokens", func() {
		_, ok := credentials.TokenExpiry("not-a-jwt")
		Expect(ok).To(BeFalse())
	})
})
