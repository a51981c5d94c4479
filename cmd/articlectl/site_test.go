package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const acmeSite = `
id: site-1
name: Acme
url: https://acme.com
audience: agency owners
banned_topics: [crypto]
cta:
  text: Start a trial
  url: https://acme.com/trial
links:
  - anchor: pricing page
    url: /pricing
  - anchor: ""
    url: /ignored
articles:
  - title: CRM Basics
    slug: crm-basics
    keyword: crm basics
`

func TestParseSite(t *testing.T) {
	site, err := parseSite(strings.NewReader(acmeSite))
	if err != nil {
		t.Fatalf("parseSite() error = %v", err)
	}
	if site.Website.ID != "site-1" || site.Website.CTAURL != "https://acme.com/trial" {
		t.Errorf("website = %+v", site.Website)
	}
	if string(site.Website.BannedTopics) != `["crypto"]` {
		t.Errorf("BannedTopics = %s", site.Website.BannedTopics)
	}
	if len(site.Links) != 1 || site.Links[0].URL != "/pricing" {
		t.Errorf("links = %+v", site.Links)
	}
	if len(site.Articles) != 1 || site.Articles[0].Slug != "crm-basics" {
		t.Errorf("articles = %+v", site.Articles)
	}

	if _, err := parseSite(strings.NewReader("url: https://acme.com\n")); err == nil {
		t.Error("parseSite() accepted a site without id")
	}
}

func TestRepairCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "draft.md")
	text := "# CRM Guide\n\nA good CRM keeps every deal visible.\n"
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"repair", path, "--brand", "Acme", "--brand-url", "https://acme.com"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "# CRM Guide") {
		t.Errorf("output = %q", out.String())
	}
}
