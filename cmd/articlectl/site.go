package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rankforge/api/internal/config"
	"github.com/rankforge/api/internal/model"
	"github.com/rankforge/api/internal/store"
)

// siteFile is the YAML layout of a website import.
type siteFile struct {
	ID               string   `yaml:"id"`
	Name             string   `yaml:"name"`
	URL              string   `yaml:"url"`
	Audience         string   `yaml:"audience"`
	Tone             string   `yaml:"tone"`
	Niche            string   `yaml:"niche"`
	WritingStyle     string   `yaml:"writing_style"`
	BannedTopics     []string `yaml:"banned_topics"`
	ValueProposition string   `yaml:"value_proposition"`
	Competitors      []string `yaml:"competitors"`
	Products         []string `yaml:"products"`
	GeographicFocus  string   `yaml:"geographic_focus"`
	CTA              struct {
		Text string `yaml:"text"`
		URL  string `yaml:"url"`
	} `yaml:"cta"`
	Links []struct {
		Anchor string `yaml:"anchor"`
		URL    string `yaml:"url"`
	} `yaml:"links"`
	Articles []struct {
		Title   string `yaml:"title"`
		Slug    string `yaml:"slug"`
		URL     string `yaml:"url"`
		Keyword string `yaml:"keyword"`
	} `yaml:"articles"`
}

func parseSite(r io.Reader) (store.SiteImport, error) {
	var f siteFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return store.SiteImport{}, fmt.Errorf("failed to parse site file: %w", err)
	}
	if f.ID == "" || f.Name == "" {
		return store.SiteImport{}, fmt.Errorf("site file needs id and name")
	}

	site := store.SiteImport{
		Website: store.Website{
			ID:               f.ID,
			Name:             f.Name,
			URL:              f.URL,
			Audience:         f.Audience,
			Tone:             f.Tone,
			Niche:            f.Niche,
			WritingStyle:     f.WritingStyle,
			BannedTopics:     store.JSONList(f.BannedTopics),
			CTAText:          f.CTA.Text,
			CTAURL:           f.CTA.URL,
			ValueProposition: f.ValueProposition,
			Competitors:      store.JSONList(f.Competitors),
			Products:         store.JSONList(f.Products),
			GeographicFocus:  f.GeographicFocus,
		},
	}
	for _, l := range f.Links {
		if l.Anchor == "" || l.URL == "" {
			continue
		}
		site.Links = append(site.Links, model.LinkCandidate{Anchor: l.Anchor, URL: l.URL})
	}
	for _, a := range f.Articles {
		if a.Title == "" {
			continue
		}
		site.Articles = append(site.Articles, model.PublishedArticle{Title: a.Title, Slug: a.Slug, URL: a.URL, Keyword: a.Keyword})
	}
	return site, nil
}

// generationContext mirrors what the content store would return for site.
func generationContext(site store.SiteImport) model.GenerationContext {
	return model.GenerationContext{
		WebsiteID:         site.Website.ID,
		BrandName:         site.Website.Name,
		BrandURL:          site.Website.URL,
		CTAText:           site.Website.CTAText,
		CTAURL:            site.Website.CTAURL,
		LinkCandidates:    site.Links,
		PublishedArticles: site.Articles,
	}
}

func readSiteFile(path string) (store.SiteImport, error) {
	f, err := os.Open(path)
	if err != nil {
		return store.SiteImport{}, err
	}
	defer f.Close()
	return parseSite(f)
}

func newSiteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "site",
		Short: "Manage websites",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <site.yaml>",
		Short: "Create or update a website with its links and published articles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			site, err := readSiteFile(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := store.Open(cfg.Database)
			if err != nil {
				return err
			}
			if err := store.NewContentStore(db).SaveSite(cmd.Context(), site); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s: %d links, %d articles\n",
				site.Website.ID, len(site.Links), len(site.Articles))
			return nil
		},
	})
	return cmd
}
