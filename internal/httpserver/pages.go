package httpserver

import (
	"bytes"
	"embed"
	"encoding/base64"
	"encoding/json"
	"html/template"
	"net/http"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	pageIndex  = "index.html"
	pageTools  = "tools.html"
	pageSignup = "signup.html"
	pageLogin  = "login.html"
)

type flash struct {
	Category string `json:"c"`
	Message  string `json:"m"`
}

type pageData struct {
	Title    string
	Username string
	Flashes  []flash
}

type pageRenderer struct {
	pages map[string]*template.Template
}

func newPageRenderer() *pageRenderer {
	pr := &pageRenderer{pages: make(map[string]*template.Template)}
	for _, p := range []string{pageIndex, pageTools, pageSignup, pageLogin} {
		pr.pages[p] = template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/"+p))
	}
	return pr
}

// render writes a full page. Pending flashes from the cookie are shown
// once and then cleared, followed by any extra notices for this response.
func (h *handler) render(w http.ResponseWriter, r *http.Request, status int, page, title string, extra ...flash) {
	data := pageData{Title: title}
	if session, ok := h.currentSession(r); ok {
		data.Username = session.Username
	}
	data.Flashes = append(readFlashes(r), extra...)

	var buf bytes.Buffer
	if err := h.pages.pages[page].ExecuteTemplate(&buf, "base", data); err != nil {
		h.log.Error("render page failed", "page", page, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	clearFlashes(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (h *handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, target string, fl ...flash) {
	setFlashes(w, r, fl...)
	http.Redirect(w, r, target, http.StatusSeeOther)
}

const flashCookieName = "flash"

func readFlashes(r *http.Request) []flash {
	c, err := r.Cookie(flashCookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil
	}
	var out []flash
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// setFlashes queues notices for the next rendered page, keeping any that
// have not been shown yet.
func setFlashes(w http.ResponseWriter, r *http.Request, fl ...flash) {
	if len(fl) == 0 {
		return
	}
	all := append(readFlashes(r), fl...)
	raw, err := json.Marshal(all)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(raw),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearFlashes(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
