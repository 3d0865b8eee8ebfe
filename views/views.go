// Package views provides the default page templates for a weblog site.
// Sites that want their own look pass a different weblog.ViewFuncs.
package views

import (
	"embed"
	"html/template"
	"strings"

	"github.com/a-h/templ"

	"github.com/eringen/weblog"
)

//go:embed templates/*.html
var templateFS embed.FS

// page is the data every template receives.
type page struct {
	Site    weblog.SiteConfig
	Meta    weblog.PageMeta
	Viewer  weblog.Viewer
	CSRF    string
	Message string
	Listing weblog.PostPage
	Post    *weblog.Post
}

var pages = parsePages("home", "post", "form", "login", "signup", "about", "notfound", "error")

// parsePages builds one template set per page, each layered on the shared
// layout.
func parsePages(names ...string) map[string]*template.Template {
	base := template.Must(template.New("layout.html").Funcs(funcs).ParseFS(templateFS, "templates/layout.html"))
	out := make(map[string]*template.Template, len(names))
	for _, name := range names {
		t := template.Must(base.Clone())
		out[name] = template.Must(t.ParseFS(templateFS, "templates/"+name+".html"))
	}
	return out
}

func render(name string, data page) templ.Component {
	return templ.FromGoHTML(pages[name], data)
}

func meta(site weblog.SiteConfig, title, description string, segs ...string) weblog.PageMeta {
	if title == "" {
		title = site.Name
	} else {
		title = title + " | " + site.Name
	}
	if description == "" {
		description = site.Description
	}
	return weblog.PageMeta{
		Title:       title,
		Description: description,
		URL:         weblog.BuildURL(site.URL, segs...),
	}
}

// New returns the default ViewFuncs.
func New() weblog.ViewFuncs {
	return weblog.ViewFuncs{
		Home: func(listing weblog.PostPage, v weblog.Viewer, site weblog.SiteConfig) templ.Component {
			return render("home", page{Site: site, Meta: meta(site, "", ""), Viewer: v, Listing: listing})
		},
		Post: func(post weblog.Post, v weblog.Viewer, site weblog.SiteConfig) templ.Component {
			desc := strings.TrimSpace(post.Summary)
			return render("post", page{Site: site, Meta: meta(site, post.Title, desc, "post", post.Slug), Viewer: v, Post: &post})
		},
		PostForm: func(post *weblog.Post, csrf string, site weblog.SiteConfig) templ.Component {
			title := "New post"
			if post != nil {
				title = "Edit: " + post.Title
			}
			return render("form", page{Site: site, Meta: meta(site, title, ""), Viewer: weblog.Viewer{Authorized: true}, CSRF: csrf, Post: post})
		},
		Login: func(msg, csrf string, site weblog.SiteConfig) templ.Component {
			return render("login", page{Site: site, Meta: meta(site, "Login", ""), CSRF: csrf, Message: msg})
		},
		Signup: func(msg, csrf string, site weblog.SiteConfig) templ.Component {
			return render("signup", page{Site: site, Meta: meta(site, "Sign up", ""), CSRF: csrf, Message: msg})
		},
		About: func(v weblog.Viewer, site weblog.SiteConfig) templ.Component {
			return render("about", page{Site: site, Meta: meta(site, "About", "", "me"), Viewer: v})
		},
		NotFound: func(site weblog.SiteConfig) templ.Component {
			return render("notfound", page{Site: site, Meta: meta(site, "Not found", "")})
		},
		ServerError: func(site weblog.SiteConfig) templ.Component {
			return render("error", page{Site: site, Meta: meta(site, "Error", "")})
		},
	}
}
