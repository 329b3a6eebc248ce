package imagery

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/kitcheniq/internal/storage"
)

func testPNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{0, 128, 255, 255})
		}
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

// mockCache is a Cache with injectable errors
type mockCache struct {
	entries   map[string]*CacheEntry
	getErr    error
	putErr    error
	deleteErr error
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string]*CacheEntry)}
}

func (m *mockCache) GetImage(_ context.Context, fingerprint string) (*CacheEntry, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	entry, ok := m.entries[fingerprint]
	if !ok {
		return nil, ErrCacheMiss
	}
	copied := *entry
	return &copied, nil
}

func (m *mockCache) PutImage(_ context.Context, entry *CacheEntry) error {
	if m.putErr != nil {
		return m.putErr
	}
	copied := *entry
	m.entries[entry.Fingerprint] = &copied
	return nil
}

func (m *mockCache) DeleteImage(_ context.Context, fingerprint string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.entries, fingerprint)
	return nil
}

var _ = Describe("Resolver", func() {
	var (
		server   *ghttp.Server
		cache    *mockCache
		files    *storage.LocalStorage
		resolver *Resolver
		ctx      context.Context
		query    Query
		pngData  []byte
	)

	offFound := func(imageURL string) http.HandlerFunc {
		return ghttp.CombineHandlers(
			ghttp.VerifyRequest(http.MethodGet, "/cgi/search.pl"),
			ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"products": []map[string]string{{"image_front_small_url": imageURL}},
			}),
		)
	}
	offEmpty := ghttp.CombineHandlers(
		ghttp.VerifyRequest(http.MethodGet, "/cgi/search.pl"),
		ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"products": []any{}}),
	)
	wikiEmpty := ghttp.CombineHandlers(
		ghttp.VerifyRequest(http.MethodGet, "/w/api.php"),
		ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"query": map[string]any{"search": []any{}}}),
	)
	imageBody := func() http.HandlerFunc {
		return ghttp.CombineHandlers(
			ghttp.VerifyRequest(http.MethodGet, "/img/milk"),
			ghttp.RespondWith(http.StatusOK, pngData, http.Header{"Content-Type": []string{"image/png"}}),
		)
	}

	BeforeEach(func() {
		var err error
		server = ghttp.NewServer()
		cache = newMockCache()
		files, err = storage.NewLocalStorage(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
		query = Query{Name: "Whole Milk", Description: "1 gallon", Store: "Kroger"}
		pngData = testPNG(4, 4)

		resolver = NewResolver(Config{
			OpenFoodFactsURL:    server.URL() + "/cgi/search.pl",
			WikipediaAPIURL:     server.URL() + "/w/api.php",
			WikipediaSummaryURL: server.URL() + "/page/summary",
			ProviderTimeout:     2 * time.Second,
			DownloadTimeout:     2 * time.Second,
		}, cache, files)
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("Resolve", func() {
		When("the first provider finds an image", func() {
			var res Resolution

			BeforeEach(func() {
				server.AppendHandlers(offFound(server.URL()+"/img/milk"), imageBody())
			})

			JustBeforeEach(func() {
				res = resolver.Resolve(ctx, query)
			})

			It("downloads the image under the fingerprint", func() {
				Expect(res.Found()).To(BeTrue())
				Expect(filepath.Base(res.LocalPath)).To(Equal(Fingerprint(query) + ".png"))
				Expect(res.SourceURL).To(Equal(server.URL() + "/img/milk"))
				Expect(os.ReadFile(res.LocalPath)).To(Equal(pngData))
			})

			It("stops the cascade at the first success", func() {
				Expect(res.Attempts).To(Equal([]Attempt{{Provider: "openfoodfacts", Outcome: OutcomeFound}}))
			})

			It("caches the resolution", func() {
				entry := cache.entries[Fingerprint(query)]
				Expect(entry).NotTo(BeNil())
				Expect(entry.LocalPath).To(Equal(res.LocalPath))
				Expect(entry.Query).To(Equal("Whole Milk 1 gallon"))
			})

			It("never calls a provider for the same fingerprint again", func() {
				again := resolver.Resolve(ctx, Query{Name: "whole milk", Description: "1 GALLON"})
				Expect(again.CacheHit).To(BeTrue())
				Expect(again.LocalPath).To(Equal(res.LocalPath))
				Expect(again.Attempts).To(BeEmpty())
				Expect(server.ReceivedRequests()).To(HaveLen(2))
			})

			It("re-resolves when the cached file disappeared", func() {
				Expect(os.Remove(res.LocalPath)).To(Succeed())
				server.AppendHandlers(offFound(server.URL()+"/img/milk"), imageBody())

				again := resolver.Resolve(ctx, query)
				Expect(again.CacheHit).To(BeFalse())
				Expect(again.LocalPath).To(BeAnExistingFile())
				Expect(server.ReceivedRequests()).To(HaveLen(4))
			})
		})

		When("an earlier provider fails", func() {
			It("falls through to the next one", func() {
				server.AppendHandlers(
					ghttp.RespondWith(http.StatusInternalServerError, "boom"),
					ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
						"query": map[string]any{"search": []map[string]string{{"title": "Whole milk"}}},
					}),
					ghttp.CombineHandlers(
						ghttp.VerifyRequest(http.MethodGet, "/page/summary/Whole milk"),
						ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
							"thumbnail": map[string]string{"source": server.URL() + "/img/milk"},
						}),
					),
					imageBody(),
				)

				res := resolver.Resolve(ctx, query)
				Expect(res.Found()).To(BeTrue())
				Expect(res.Attempts).To(Equal([]Attempt{
					{Provider: "openfoodfacts", Outcome: OutcomeUnavailable},
					{Provider: "wikipedia", Outcome: OutcomeFound},
				}))
			})
		})

		When("no provider finds anything", func() {
			var res Resolution

			BeforeEach(func() {
				server.AppendHandlers(offEmpty, wikiEmpty)
				res = resolver.Resolve(ctx, query)
			})

			It("returns an empty resolution", func() {
				Expect(res.Found()).To(BeFalse())
				Expect(res.SourceURL).To(BeEmpty())
			})

			It("records a negative cache entry", func() {
				entry := cache.entries[Fingerprint(query)]
				Expect(entry).NotTo(BeNil())
				Expect(entry.LocalPath).To(BeEmpty())
			})

			It("does not query providers again", func() {
				again := resolver.Resolve(ctx, query)
				Expect(again.CacheHit).To(BeTrue())
				Expect(server.ReceivedRequests()).To(HaveLen(2))
			})

			It("re-queries once the negative entry expires", func() {
				resolver.negativeTTL = time.Hour
				resolver.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
				server.AppendHandlers(offEmpty, wikiEmpty)

				again := resolver.Resolve(ctx, query)
				Expect(again.CacheHit).To(BeFalse())
				Expect(server.ReceivedRequests()).To(HaveLen(4))
			})
		})

		When("the download fails", func() {
			It("keeps the source URL and caches no local path", func() {
				server.AppendHandlers(
					offFound(server.URL()+"/img/milk"),
					ghttp.RespondWith(http.StatusNotFound, ""),
				)

				res := resolver.Resolve(ctx, query)
				Expect(res.Found()).To(BeFalse())
				Expect(res.SourceURL).To(Equal(server.URL() + "/img/milk"))
				Expect(cache.entries[Fingerprint(query)].LocalPath).To(BeEmpty())
			})
		})

		When("the cache cannot be read", func() {
			It("still resolves from the providers", func() {
				cache.getErr = errors.New("disk on fire")
				server.AppendHandlers(offFound(server.URL()+"/img/milk"), imageBody())

				Expect(resolver.Resolve(ctx, query).Found()).To(BeTrue())
			})
		})

		When("the cache cannot be written", func() {
			It("returns the resolution anyway", func() {
				cache.putErr = errors.New("read-only")
				server.AppendHandlers(offFound(server.URL()+"/img/milk"), imageBody())

				Expect(resolver.Resolve(ctx, query).Found()).To(BeTrue())
			})
		})
	})

	Describe("Refresh", func() {
		BeforeEach(func() {
			server.AppendHandlers(offEmpty, wikiEmpty)
			resolver.Resolve(ctx, query)
		})

		It("bypasses the cached entry", func() {
			server.AppendHandlers(offFound(server.URL()+"/img/milk"), imageBody())

			res, err := resolver.Refresh(ctx, query)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Found()).To(BeTrue())
			Expect(cache.entries[Fingerprint(query)].LocalPath).To(Equal(res.LocalPath))
		})

		It("returns an error when the entry cannot be deleted", func() {
			cache.deleteErr = errors.New("locked")

			_, err := resolver.Refresh(ctx, query)
			Expect(err).To(MatchError(ContainSubstring("locked")))
		})
	})

	Describe("Override", func() {
		It("stores a downscaled JPEG that wins over automatic resolution", func() {
			res, err := resolver.Override(ctx, query, testPNG(1600, 800))
			Expect(err).NotTo(HaveOccurred())
			Expect(filepath.Base(res.LocalPath)).To(Equal("custom_" + Fingerprint(query) + ".jpg"))
			Expect(res.SourceURL).To(BeEmpty())

			data, err := os.ReadFile(res.LocalPath)
			Expect(err).NotTo(HaveOccurred())
			cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Width).To(Equal(MaxOverrideDimension))
			Expect(cfg.Height).To(Equal(MaxOverrideDimension / 2))

			again := resolver.Resolve(ctx, query)
			Expect(again.CacheHit).To(BeTrue())
			Expect(again.LocalPath).To(Equal(res.LocalPath))
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})

		It("replaces an earlier automatic resolution", func() {
			server.AppendHandlers(offFound(server.URL()+"/img/milk"), imageBody())
			resolver.Resolve(ctx, query)

			res, err := resolver.Override(ctx, query, testPNG(10, 10))
			Expect(err).NotTo(HaveOccurred())
			entry := cache.entries[Fingerprint(query)]
			Expect(entry.LocalPath).To(Equal(res.LocalPath))
			Expect(entry.SourceURL).To(BeEmpty())
		})

		It("rejects data that is not an image", func() {
			_, err := resolver.Override(ctx, query, []byte("%PDF-1.7 not an image"))
			Expect(err).To(MatchError(ErrUnsupportedImage))
		})
	})
})

var _ = Describe("BoltCache", func() {
	var (
		cache *BoltCache
		ctx   context.Context
	)

	BeforeEach(func() {
		var err error
		cache, err = NewBoltCache(filepath.Join(GinkgoT().TempDir(), "cache.bolt"))
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	AfterEach(func() {
		cache.Close()
	})

	It("reports a miss for an unknown fingerprint", func() {
		_, err := cache.GetImage(ctx, "nope")
		Expect(err).To(MatchError(ErrCacheMiss))
	})

	It("round trips and replaces entries", func() {
		cachedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		Expect(cache.PutImage(ctx, &CacheEntry{Fingerprint: "fp", Query: "milk", SourceURL: "https://a", CachedAt: cachedAt})).To(Succeed())
		Expect(cache.PutImage(ctx, &CacheEntry{Fingerprint: "fp", Query: "milk", LocalPath: "/tmp/fp.jpg", CachedAt: cachedAt})).To(Succeed())

		entry, err := cache.GetImage(ctx, "fp")
		Expect(err).NotTo(HaveOccurred())
		Expect(entry.LocalPath).To(Equal("/tmp/fp.jpg"))
		Expect(entry.SourceURL).To(BeEmpty())
		Expect(entry.CachedAt.Equal(cachedAt)).To(BeTrue())
	})

	It("deletes entries idempotently", func() {
		Expect(cache.PutImage(ctx, &CacheEntry{Fingerprint: "fp"})).To(Succeed())
		Expect(cache.DeleteImage(ctx, "fp")).To(Succeed())
		Expect(cache.DeleteImage(ctx, "fp")).To(Succeed())

		_, err := cache.GetImage(ctx, "fp")
		Expect(err).To(MatchError(ErrCacheMiss))
	})

	It("backs a resolver", func() {
		files, err := storage.NewLocalStorage(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		resolver := NewResolver(Config{}, cache, files, stubProvider{result: notFound()})

		first := resolver.Resolve(ctx, Query{Name: "Unobtainium"})
		Expect(first.CacheHit).To(BeFalse())
		second := resolver.Resolve(ctx, Query{Name: "Unobtainium"})
		Expect(second.CacheHit).To(BeTrue())
	})
})

type stubProvider struct {
	result Result
}

func (s stubProvider) Name() string { return "stub" }

func (s stubProvider) Search(context.Context, Query) Result { return s.result }
