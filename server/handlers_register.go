package server

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/onnwee/raid-herald/db"
	"github.com/onnwee/raid-herald/twitchapi"
)

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Body}}</p>
{{if .RegisterID}}<p>Keep this id to unregister later: <code>{{.RegisterID}}</code></p>{{end}}
</body>
</html>
`))

type pageData struct {
	Title      string
	Body       string
	RegisterID string
}

func renderPage(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTmpl.Execute(w, data); err != nil {
		slog.Warn("render page failed", slog.Any("err", err))
	}
}

func notRegisteredPage(w http.ResponseWriter) {
	renderPage(w, http.StatusBadRequest, pageData{
		Title: "Not registered",
		Body:  "This channel is not registered for raid shoutouts.",
	})
}

// HandleRegister completes the OAuth authorization-code flow: it exchanges
// the code, learns who authorized, stores the credential, and starts
// watching that channel for raids.
func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := r.URL.Query().Get("code")
	scope := r.URL.Query().Get("scope")

	if code == "" || scope == "" {
		http.Error(w, "some parameter is wrong", http.StatusBadRequest)
		return
	}
	if scope != h.cfg.TwitchScopes {
		http.Error(w, "scope is wrong", http.StatusBadRequest)
		return
	}

	res, err := exchangeCode(ctx, h.cfg.TwitchClientID, h.cfg.TwitchClientSecret, code, h.cfg.TwitchRedirectURI)
	if err != nil {
		slog.Warn("register: code exchange failed", slog.Any("err", err))
		http.Error(w, "failed to get token", http.StatusBadRequest)
		return
	}
	info, err := validateToken(ctx, res.AccessToken)
	if err != nil {
		slog.Warn("register: token validation failed", slog.Any("err", err))
		http.Error(w, "failed to get token", http.StatusBadRequest)
		return
	}

	// A user re-registering while active keeps their register id; anyone
	// else gets a fresh one and is (re)activated.
	existing, err := db.GetCredentialByUserID(ctx, h.db, info.UserID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	reRegister := existing != nil && existing.IsActive
	registerID := uuid.New().String()
	if reRegister {
		registerID = existing.RegisterID
	}

	cred := &db.Credential{
		UserID:       info.UserID,
		UserName:     info.Login,
		RegisterID:   registerID,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    twitchapi.ComputeExpiry(res.ExpiresIn),
		Scope:        strings.Join(res.Scope, " "),
		IsActive:     true,
	}
	if err := db.UpsertCredential(ctx, h.db, cred, reRegister); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if h.subs != nil {
		// Drop any stale subscription before joining fresh.
		h.subs.Unsubscribe(info.Login)
		h.subs.Subscribe(info.Login)
	}

	slog.Info("user registered",
		slog.String("user_id", info.UserID),
		slog.String("user_name", info.Login),
		slog.Bool("re_register", reRegister))

	http.Redirect(w, r, "/registered?regId="+url.QueryEscape(registerID)+"&name="+url.QueryEscape(info.Login),
		http.StatusMovedPermanently)
}

// HandleRegistered renders the post-registration confirmation page.
func (h *Handlers) HandleRegistered(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	body := "Raid shoutouts are now enabled for your channel."
	if name != "" {
		body = "Raid shoutouts are now enabled for " + name + "."
	}
	renderPage(w, http.StatusOK, pageData{
		Title:      "Registered",
		Body:       body,
		RegisterID: r.URL.Query().Get("regId"),
	})
}

// redirectToAuthorize sends the user through the OAuth flow again so the
// service can recover their identity without a register id.
func (h *Handlers) redirectToAuthorize(w http.ResponseWriter, r *http.Request) {
	u, err := twitchapi.BuildAuthorizeURL(h.cfg.TwitchClientID, h.cfg.TwitchUnregisterRedirectURI, "", "")
	if err != nil {
		slog.Warn("unregister: authorize URL build failed", slog.Any("err", err))
		http.Error(w, "unregister is not configured", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, u, http.StatusMovedPermanently)
}

// deactivate disables a credential, suppresses its pending shoutouts, stops
// the raid intake, and revokes the access token. Revocation and
// unsubscription are best-effort.
func (h *Handlers) deactivate(r *http.Request, cred *db.Credential) error {
	ctx := r.Context()
	if err := db.DeactivateCredential(ctx, h.db, cred.UserID); err != nil {
		return err
	}
	if n, err := db.SuppressRaidsFor(ctx, h.db, cred.UserID); err != nil {
		slog.Warn("unregister: suppress pending raids failed", slog.Any("err", err))
	} else if n > 0 {
		slog.Info("unregister: suppressed pending raids", slog.Int64("count", n))
	}
	if h.subs != nil {
		h.subs.Unsubscribe(cred.UserName)
	}
	if err := revokeToken(ctx, h.cfg.TwitchClientID, cred.AccessToken); err != nil {
		slog.Warn("unregister: token revocation failed", slog.Any("err", err))
	}
	slog.Info("user unregistered",
		slog.String("user_id", cred.UserID),
		slog.String("user_name", cred.UserName))
	return nil
}

// HandleUnregister disables a registration identified by its register id.
// Without a usable id the user is bounced through the login variant.
func (h *Handlers) HandleUnregister(w http.ResponseWriter, r *http.Request) {
	registeredID := r.URL.Query().Get("registered_id")
	if registeredID == "" {
		h.redirectToAuthorize(w, r)
		return
	}

	cred, err := db.GetCredentialByRegisterID(r.Context(), h.db, registeredID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if cred == nil {
		h.redirectToAuthorize(w, r)
		return
	}
	if !cred.IsActive {
		notRegisteredPage(w)
		return
	}

	if err := h.deactivate(r, cred); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	renderPage(w, http.StatusOK, pageData{
		Title: "Unregistered",
		Body:  "Raid shoutouts are now disabled for your channel.",
	})
}

// HandleUnregisterWithLogin recovers the user's identity via a fresh OAuth
// code, then follows the same deactivation path as HandleUnregister.
func (h *Handlers) HandleUnregisterWithLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "parameter is wrong", http.StatusBadRequest)
		return
	}

	res, err := exchangeCode(ctx, h.cfg.TwitchClientID, h.cfg.TwitchClientSecret, code, h.cfg.TwitchRedirectURI)
	if err != nil {
		slog.Warn("unregister: code exchange failed", slog.Any("err", err))
		http.Error(w, "failed to get token", http.StatusBadRequest)
		return
	}
	info, err := validateToken(ctx, res.AccessToken)
	if err != nil {
		slog.Warn("unregister: token validation failed", slog.Any("err", err))
		http.Error(w, "failed to get token", http.StatusBadRequest)
		return
	}

	cred, err := db.GetCredentialByUserID(ctx, h.db, info.UserID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if cred == nil {
		notRegisteredPage(w)
		return
	}

	// Store the fresh tokens so later revocation and refresh act on live
	// values; register id and activation state stay as they are.
	wasActive := cred.IsActive
	update := &db.Credential{
		UserID:       info.UserID,
		UserName:     info.Login,
		RegisterID:   cred.RegisterID,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    twitchapi.ComputeExpiry(res.ExpiresIn),
		Scope:        strings.Join(res.Scope, " "),
		IsActive:     cred.IsActive,
	}
	if err := db.UpsertCredential(ctx, h.db, update, true); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if !wasActive {
		notRegisteredPage(w)
		return
	}

	if err := h.deactivate(r, update); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	renderPage(w, http.StatusOK, pageData{
		Title: "Unregistered",
		Body:  "Raid shoutouts are now disabled for your channel.",
	})
}

// HandleStatus reports the registration state for a register id.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	registeredID := r.URL.Query().Get("registered_id")

	status := "unregistered"
	if registeredID != "" {
		cred, err := db.GetCredentialByRegisterID(r.Context(), h.db, registeredID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		switch {
		case cred == nil:
			// stays unregistered
		case cred.IsActive:
			status = "active"
		default:
			status = "disabled"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": status}); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
