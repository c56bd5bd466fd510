// Package tvmaze maps the TVmaze show and cast endpoints onto the catalog
// model.
package tvmaze

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Sternrassler/tvmaze-scraper/pkg/fetch"
	"github.com/Sternrassler/tvmaze-scraper/pkg/model"
)

// DefaultBaseURL is the public TVmaze API.
const DefaultBaseURL = "http://api.tvmaze.com"

// apiShow is the subset of a show summary the importer reads.
type apiShow struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// apiCastEntry is one element of /shows/{id}/cast.
type apiCastEntry struct {
	Person apiPerson `json:"person"`
}

type apiPerson struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Birthday *string `json:"birthday"`
}

// Client fetches catalog pages and cast lists through a fetch.Doer.
type Client struct {
	doer    fetch.Doer
	baseURL string
}

// NewClient creates a client. An empty baseURL selects DefaultBaseURL.
func NewClient(doer fetch.Doer, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		doer:    doer,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// PageURL returns the URL of catalog page n.
func (c *Client) PageURL(page int) string {
	return fmt.Sprintf("%s/shows?page=%d", c.baseURL, page)
}

// CastURL returns the URL of a show's cast list.
func (c *Client) CastURL(showID int) string {
	return fmt.Sprintf("%s/shows/%d/cast", c.baseURL, showID)
}

// ShowPage fetches one catalog page. Shows come back with an empty cast.
func (c *Client) ShowPage(ctx context.Context, page int) fetch.Result[[]model.Show] {
	url := c.PageURL(page)
	return fetch.Map(c.doer.Execute(ctx, http.MethodGet, url), func(p fetch.Payload) ([]model.Show, *fetch.FetchError) {
		var items []apiShow
		if err := p.Decode(&items); err != nil {
			return nil, fetch.NewProjectionError(url, p.StatusCode, err)
		}
		return projectShows(items), nil
	})
}

// ShowCast fetches the cast of one show in upstream order.
func (c *Client) ShowCast(ctx context.Context, showID int) fetch.Result[[]model.CastMember] {
	url := c.CastURL(showID)
	return fetch.Map(c.doer.Execute(ctx, http.MethodGet, url), func(p fetch.Payload) ([]model.CastMember, *fetch.FetchError) {
		var entries []apiCastEntry
		if err := p.Decode(&entries); err != nil {
			return nil, fetch.NewProjectionError(url, p.StatusCode, err)
		}
		return projectCast(entries), nil
	})
}

func projectShows(items []apiShow) []model.Show {
	shows := make([]model.Show, 0, len(items))
	for _, item := range items {
		shows = append(shows, model.Show{
			ID:   item.ID,
			Name: item.Name,
			Cast: []model.CastMember{},
		})
	}
	return shows
}

func projectCast(entries []apiCastEntry) []model.CastMember {
	cast := make([]model.CastMember, 0, len(entries))
	for _, e := range entries {
		cast = append(cast, model.CastMember{
			ID:       e.Person.ID,
			Name:     e.Person.Name,
			Birthday: e.Person.Birthday,
		})
	}
	return cast
}
