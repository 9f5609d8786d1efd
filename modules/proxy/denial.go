package proxy

import (
	"html/template"
	"net/http"
)

// denialPageTemplate is parsed once at start-up; the page never discloses
// which check failed, only a contact address.
var denialPageTemplate = template.Must(template.New("denied").Parse(`<!DOCTYPE html>
<html>
<head><title>Access denied</title></head>
<body>
<h1>Access denied</h1>
<p>You do not have permission to access this resource.</p>
<p>If you believe this is in error, contact <a href="mailto:{{.Email}}">{{.EmailName}}</a>.</p>
</body>
</html>
`))

type denialPageData struct {
	Email     string
	EmailName string
}

// DenialRenderer renders the 403 HTML page served whenever AuthEngine
// denies a request. It is stateless once built: the template is fixed and
// Email/EmailName come from EffectiveConfig at start-up.
type DenialRenderer struct {
	email     string
	emailName string
}

// NewDenialRenderer builds a renderer substituting email/emailName into the
// mailto link. Either may be empty, in which case the sentence still
// renders without a usable contact.
func NewDenialRenderer(email, emailName string) *DenialRenderer {
	return &DenialRenderer{email: email, emailName: emailName}
}

// Render writes the 403 denial page to w. It never returns an error to the
// caller: a template execution failure here would itself be a bug, not a
// runtime condition to recover from.
func (d *DenialRenderer) Render(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_ = denialPageTemplate.Execute(w, denialPageData{Email: d.email, EmailName: d.emailName})
}
