package api

import (
	"html/template"
	"log/slog"
	"net/http"
)

type linkAction struct {
	Title  string
	Prompt string
	Button string
}

var (
	linkConfirm = linkAction{Title: "Confirm appointment", Prompt: "Confirm that you will attend this appointment.", Button: "Confirm"}
	linkCancel  = linkAction{Title: "Cancel appointment", Prompt: "Cancel this appointment and release the time.", Button: "Cancel appointment"}
	linkAccept  = linkAction{Title: "Accept offered time", Prompt: "Book the time offered to you from the waitlist.", Button: "Book this time"}
	linkDecline = linkAction{Title: "Decline offered time", Prompt: "Pass on this time and stay on the waitlist for others.", Button: "Decline"}
)

var linkPage = template.Must(template.New("link").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta name="robots" content="noindex">
<title>{{.Title}}</title>
</head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Prompt}}</p>
<form method="post" action="{{.Target}}">
<button type="submit">{{.Button}}</button>
</form>
</body>
</html>
`))

type linkPageData struct {
	linkAction
	Target string
}

// linkPageHandler renders the page a patient lands on from a message link.
// Nothing changes until the form is submitted.
func linkPageHandler(action linkAction, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := pathUUID(w, r, "id"); !ok {
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Referrer-Policy", "no-referrer")
		if err := linkPage.Execute(w, linkPageData{linkAction: action, Target: r.URL.RequestURI()}); err != nil {
			logger.Error("render link page", "path", r.URL.Path, "error", err)
		}
	}
}
