package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/rankforge/api/internal/config"
	"github.com/rankforge/api/internal/model"
)

// Article statuses
const (
	ArticleStatusDraft      = "draft"
	ArticleStatusPublishing = "publishing"
	ArticleStatusPublished  = "published"
)

// Website is a customer site and its brand voice.
type Website struct {
	ID               string `gorm:"primaryKey;size:64"`
	Name             string `gorm:"size:200;not null"`
	URL              string `gorm:"size:500"`
	Audience         string
	Tone             string
	Niche            string
	WritingStyle     string
	BannedTopics     datatypes.JSON
	CTAText          string
	CTAURL           string
	ValueProposition string
	Competitors      datatypes.JSON
	Products         datatypes.JSON
	GeographicFocus  string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// InternalLink is a page of the site that new content should link to.
type InternalLink struct {
	ID        uint   `gorm:"primaryKey"`
	WebsiteID string `gorm:"size:64;index;not null"`
	Anchor    string `gorm:"size:200;not null"`
	URL       string `gorm:"size:500;not null"`
	CreatedAt time.Time
}

// Article is a generated or imported article of a site.
type Article struct {
	ID                string `gorm:"primaryKey;size:36"`
	WebsiteID         string `gorm:"size:64;index;not null"`
	JobID             string `gorm:"size:36;index"`
	KeywordID         string `gorm:"size:64"`
	Status            string `gorm:"size:20;index;not null"`
	Title             string `gorm:"size:300;not null"`
	Slug              string `gorm:"size:200;index"`
	URL               string `gorm:"size:500"`
	Body              string `gorm:"type:text"`
	Excerpt           string
	MetaTitle         string
	MetaDescription   string
	FocusKeyword      string `gorm:"size:200"`
	SecondaryKeywords datatypes.JSON
	Tags              datatypes.JSON
	Category          string
	StructuredData    datatypes.JSON
	SocialCaptions    datatypes.JSON
	FeaturedImage     datatypes.JSON
	InlineImages      datatypes.JSON
	Research          datatypes.JSON
	WordCount         int
	ReadingTime       int
	Warnings          datatypes.JSON
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Open connects to Postgres when the DSN is a postgres URL and to a SQLite
// file otherwise.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if cfg.IsPostgres() {
		dialector = postgres.Open(cfg.DSN)
	} else {
		dialector = sqlite.Open(cfg.DSN)
	}

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&Website{}, &InternalLink{}, &Article{}); err != nil {
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return db, nil
}

// ContentStore reads brand context and writes finished articles.
type ContentStore struct {
	db *gorm.DB
}

func NewContentStore(db *gorm.DB) *ContentStore {
	return &ContentStore{db: db}
}

// SiteImport is a website with its link candidates and existing articles.
type SiteImport struct {
	Website  Website
	Links    []model.LinkCandidate
	Articles []model.PublishedArticle
}

// SaveSite upserts a website and replaces its link candidates. Existing
// articles are added as published when their slug is not already known.
func (s *ContentStore) SaveSite(ctx context.Context, site SiteImport) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&site.Website).Error; err != nil {
			return fmt.Errorf("failed to save website: %w", err)
		}
		if err := tx.Where("website_id = ?", site.Website.ID).Delete(&InternalLink{}).Error; err != nil {
			return fmt.Errorf("failed to clear links: %w", err)
		}
		for _, l := range site.Links {
			link := InternalLink{WebsiteID: site.Website.ID, Anchor: l.Anchor, URL: l.URL}
			if err := tx.Create(&link).Error; err != nil {
				return fmt.Errorf("failed to save link: %w", err)
			}
		}
		for _, a := range site.Articles {
			var n int64
			if err := tx.Model(&Article{}).Where("website_id = ? AND slug = ?", site.Website.ID, a.Slug).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				continue
			}
			art := Article{
				ID:           uuid.NewString(),
				WebsiteID:    site.Website.ID,
				Status:       ArticleStatusPublished,
				Title:        a.Title,
				Slug:         a.Slug,
				URL:          a.URL,
				FocusKeyword: a.Keyword,
			}
			if err := tx.Create(&art).Error; err != nil {
				return fmt.Errorf("failed to save article: %w", err)
			}
		}
		return nil
	})
}

// GenerationContext assembles the brand context of a website, its link
// candidates and its published articles.
func (s *ContentStore) GenerationContext(ctx context.Context, websiteID string) (model.GenerationContext, error) {
	db := s.db.WithContext(ctx)

	var site Website
	if err := db.First(&site, "id = ?", websiteID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.GenerationContext{}, fmt.Errorf("%w: %s", ErrWebsiteNotFound, websiteID)
		}
		return model.GenerationContext{}, fmt.Errorf("failed to load website: %w", err)
	}

	var links []InternalLink
	if err := db.Where("website_id = ?", websiteID).Order("id").Find(&links).Error; err != nil {
		return model.GenerationContext{}, fmt.Errorf("failed to load links: %w", err)
	}
	var articles []Article
	if err := db.Select("title", "slug", "url", "focus_keyword").
		Where("website_id = ? AND status = ?", websiteID, ArticleStatusPublished).
		Order("created_at").Find(&articles).Error; err != nil {
		return model.GenerationContext{}, fmt.Errorf("failed to load articles: %w", err)
	}

	gctx := model.GenerationContext{
		WebsiteID:        site.ID,
		BrandName:        site.Name,
		BrandURL:         site.URL,
		Audience:         site.Audience,
		Tone:             site.Tone,
		Niche:            site.Niche,
		WritingStyle:     site.WritingStyle,
		BannedTopics:     decodeList(site.BannedTopics),
		CTAText:          site.CTAText,
		CTAURL:           site.CTAURL,
		ValueProposition: site.ValueProposition,
		Competitors:      decodeList(site.Competitors),
		Products:         decodeList(site.Products),
		GeographicFocus:  site.GeographicFocus,
	}
	for _, l := range links {
		gctx.LinkCandidates = append(gctx.LinkCandidates, model.LinkCandidate{Anchor: l.Anchor, URL: l.URL})
	}
	for _, a := range articles {
		gctx.PublishedArticles = append(gctx.PublishedArticles, model.PublishedArticle{
			Title: a.Title, Slug: a.Slug, URL: a.URL, Keyword: a.FocusKeyword,
		})
	}
	return gctx, nil
}

// CreateArticle stores the article produced by a job and returns its ID. A
// job that already produced an article gets the existing ID back.
func (s *ContentStore) CreateArticle(ctx context.Context, jobID string, in model.ArticleJobInput, a *model.GeneratedArticle) (string, error) {
	db := s.db.WithContext(ctx)

	var existing Article
	err := db.Select("id").Where("job_id = ?", jobID).First(&existing).Error
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("failed to look up article: %w", err)
	}

	status := ArticleStatusDraft
	if in.AutoPublish {
		status = ArticleStatusPublishing
	}
	row := Article{
		ID:                uuid.NewString(),
		WebsiteID:         in.WebsiteID,
		JobID:             jobID,
		KeywordID:         in.KeywordID,
		Status:            status,
		Title:             a.Title,
		Slug:              a.Slug,
		Body:              a.Body,
		Excerpt:           a.Excerpt,
		MetaTitle:         a.MetaTitle,
		MetaDescription:   a.MetaDescription,
		FocusKeyword:      a.FocusKeyword,
		SecondaryKeywords: toJSON(a.SecondaryKeywords),
		Tags:              toJSON(a.Tags),
		Category:          a.Category,
		StructuredData:    toJSON(a.StructuredData),
		SocialCaptions:    toJSON(a.SocialCaptions),
		FeaturedImage:     toJSON(a.FeaturedImage),
		InlineImages:      toJSON(a.InlineImages),
		Research:          toJSON(a.Research),
		WordCount:         a.WordCount,
		ReadingTime:       a.ReadingTime,
		Warnings:          toJSON(a.Warnings),
	}
	if err := db.Create(&row).Error; err != nil {
		return "", fmt.Errorf("failed to create article: %w", err)
	}
	return row.ID, nil
}

// GetArticle loads an article by ID.
func (s *ContentStore) GetArticle(ctx context.Context, id string) (*Article, error) {
	var a Article
	if err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// JSONList encodes a string list for a JSON column.
func JSONList(items []string) datatypes.JSON {
	return toJSON(items)
}

func toJSON(v any) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(data)
}

func decodeList(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
