package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rankforge/api/internal/config"
	"github.com/rankforge/api/internal/model"
)

func newJob(id string) *model.GenerationJob {
	return &model.GenerationJob{
		ID:        id,
		Kind:      model.JobKindArticle,
		Status:    model.JobStatusQueued,
		Input:     []byte(`{"keyword":"crm"}`),
		CreatedAt: time.Now().UTC(),
	}
}

// jobStores returns the memory store and, when Redis is reachable on
// localhost, a Redis store.
func jobStores(t *testing.T) map[string]JobStore {
	t.Helper()
	stores := map[string]JobStore{"memory": NewMemoryJobStore()}

	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		t.Logf("redis unavailable, skipping redis store: %v", err)
		return stores
	}
	t.Cleanup(func() {
		rdb.FlushDB(context.Background())
		rdb.Close()
	})
	stores["redis"] = NewRedisJobStore(rdb, time.Hour)
	return stores
}

func TestClaimIsExclusive(t *testing.T) {
	for name, s := range jobStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := uuid.NewString()
			if err := s.Create(ctx, newJob(id)); err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			const workers = 8
			var wg sync.WaitGroup
			var mu sync.Mutex
			won, lost := 0, 0
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := Claim(ctx, s, id, time.Now())
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						won++
					case errors.Is(err, ErrNotQueued):
						lost++
					default:
						t.Errorf("Claim() error = %v", err)
					}
				}()
			}
			wg.Wait()

			if won != 1 || lost != workers-1 {
				t.Errorf("won = %d, lost = %d", won, lost)
			}
			job, err := s.Get(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			if job.Status != model.JobStatusProcessing || job.StartedAt == nil {
				t.Errorf("job = %+v", job)
			}
		})
	}
}

func TestUpdateAbortsOnError(t *testing.T) {
	for name, s := range jobStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := uuid.NewString()
			if err := s.Create(ctx, newJob(id)); err != nil {
				t.Fatal(err)
			}
			boom := errors.New("boom")
			_, err := s.Update(ctx, id, func(j *model.GenerationJob) error {
				j.Progress = 50
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("Update() error = %v, want boom", err)
			}
			job, _ := s.Get(ctx, id)
			if job.Progress != 0 {
				t.Errorf("Progress = %d, aborted update was written", job.Progress)
			}

			if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
				t.Errorf("Get(missing) error = %v", err)
			}
			if _, err := s.Update(ctx, "missing", func(*model.GenerationJob) error { return nil }); !errors.Is(err, ErrJobNotFound) {
				t.Errorf("Update(missing) error = %v", err)
			}
			if err := s.Create(ctx, newJob(id)); err == nil {
				t.Error("Create() of a duplicate ID succeeded")
			}
		})
	}
}

func TestStuckListsOldProcessingJobs(t *testing.T) {
	for name, s := range jobStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			old, fresh, done := uuid.NewString(), uuid.NewString(), uuid.NewString()
			for _, id := range []string{old, fresh, done} {
				if err := s.Create(ctx, newJob(id)); err != nil {
					t.Fatal(err)
				}
			}
			if _, err := Claim(ctx, s, old, now.Add(-20*time.Minute)); err != nil {
				t.Fatal(err)
			}
			if _, err := Claim(ctx, s, fresh, now.Add(-time.Minute)); err != nil {
				t.Fatal(err)
			}
			if _, err := Claim(ctx, s, done, now.Add(-30*time.Minute)); err != nil {
				t.Fatal(err)
			}
			if _, err := s.Update(ctx, done, func(j *model.GenerationJob) error {
				j.Status = model.JobStatusCompleted
				return nil
			}); err != nil {
				t.Fatal(err)
			}

			stuck, err := s.Stuck(ctx, now.Add(-10*time.Minute))
			if err != nil {
				t.Fatalf("Stuck() error = %v", err)
			}
			if len(stuck) != 1 || stuck[0].ID != old {
				t.Errorf("Stuck() = %+v, want only %s", stuck, old)
			}
		})
	}
}

func testContentStore(t *testing.T) *ContentStore {
	t.Helper()
	db, err := Open(config.DatabaseConfig{DSN: filepath.Join(t.TempDir(), "content.db"), AutoMigrate: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return NewContentStore(db)
}

func TestGenerationContextFromStore(t *testing.T) {
	s := testContentStore(t)
	ctx := context.Background()

	site := SiteImport{
		Website: Website{
			ID:           "site-1",
			Name:         "Acme",
			URL:          "https://acme.com",
			Audience:     "agency owners",
			BannedTopics: JSONList([]string{"crypto"}),
			Competitors:  JSONList([]string{"Globex"}),
		},
		Links:    []model.LinkCandidate{{Anchor: "pricing page", URL: "/pricing"}},
		Articles: []model.PublishedArticle{{Title: "CRM Basics", Slug: "crm-basics", Keyword: "crm basics"}},
	}
	if err := s.SaveSite(ctx, site); err != nil {
		t.Fatalf("SaveSite() error = %v", err)
	}
	// importing again replaces links and keeps articles unique by slug
	if err := s.SaveSite(ctx, site); err != nil {
		t.Fatalf("SaveSite() again error = %v", err)
	}

	gctx, err := s.GenerationContext(ctx, "site-1")
	if err != nil {
		t.Fatalf("GenerationContext() error = %v", err)
	}
	if gctx.BrandName != "Acme" || gctx.Audience != "agency owners" {
		t.Errorf("brand fields = %+v", gctx)
	}
	if len(gctx.BannedTopics) != 1 || gctx.BannedTopics[0] != "crypto" || len(gctx.Competitors) != 1 {
		t.Errorf("lists = %v %v", gctx.BannedTopics, gctx.Competitors)
	}
	if len(gctx.LinkCandidates) != 1 || len(gctx.PublishedArticles) != 1 {
		t.Errorf("links = %v, articles = %v", gctx.LinkCandidates, gctx.PublishedArticles)
	}

	if _, err := s.GenerationContext(ctx, "nope"); !errors.Is(err, ErrWebsiteNotFound) {
		t.Errorf("GenerationContext(nope) error = %v", err)
	}
}

func TestCreateArticleOncePerJob(t *testing.T) {
	s := testContentStore(t)
	ctx := context.Background()

	in := model.ArticleJobInput{WebsiteID: "site-1", Keyword: "crm", AutoPublish: true}
	a := &model.GeneratedArticle{Title: "CRM", Slug: "crm", Body: "# CRM\n\nText.\n", Tags: []string{"crm"}, WordCount: 2}

	id1, err := s.CreateArticle(ctx, "job-1", in, a)
	if err != nil {
		t.Fatalf("CreateArticle() error = %v", err)
	}
	id2, err := s.CreateArticle(ctx, "job-1", in, a)
	if err != nil {
		t.Fatalf("CreateArticle() again error = %v", err)
	}
	if id1 != id2 {
		t.Errorf("second CreateArticle() = %s, want %s", id2, id1)
	}

	got, err := s.GetArticle(ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != ArticleStatusPublishing || got.Body != a.Body || string(got.Tags) != `["crm"]` {
		t.Errorf("article = %+v", got)
	}
}
