package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MrEthical07/venueauth"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Message: msg})
}

// writeError maps err onto its status and public message. Internal errors
// are logged with their detail and answered generically.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := venueauth.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", venueauth.CorrelationIDFromContext(r.Context())),
			zap.Error(err),
		)
	}
	writeMessage(w, status, venueauth.PublicMessage(err))
}

// decode reads a JSON body into dst, rejecting unknown fields.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errBadBody("Request body is required.")
		}
		return errBadBody("Malformed JSON body.")
	}
	return nil
}

func errBadBody(msg string) error {
	return &venueauth.Error{Kind: venueauth.ErrInvalidInput, Message: msg}
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, token string, expires time.Time) {
	c := s.cfg.RefreshCookie
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    token,
		Path:     c.Path,
		Domain:   c.Domain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	c := s.cfg.RefreshCookie
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) refreshTokenFrom(r *http.Request, body string) string {
	if body != "" {
		return body
	}
	if c, err := r.Cookie(s.cfg.RefreshCookie.Name); err == nil {
		return c.Value
	}
	return ""
}

// accountView is the public projection of an account.
type accountView struct {
	ID              string `json:"id"`
	Email           string `json:"email,omitempty"`
	Phone           string `json:"phone,omitempty"`
	Name            string `json:"name"`
	RoleID          string `json:"roleId"`
	IsEmailVerified bool   `json:"isEmailVerified"`
	IsPhoneVerified bool   `json:"isPhoneVerified"`
	IsMFAEnabled    bool   `json:"isMfaEnabled"`
	MFAMethod       string `json:"mfaMethod,omitempty"`
	HasPassword     bool   `json:"hasPassword"`
	HasGoogle       bool   `json:"hasGoogle"`
}

func viewOf(a *venueauth.Account) *accountView {
	if a == nil {
		return nil
	}
	return &accountView{
		ID:              a.ID,
		Email:           a.EmailAddress(),
		Phone:           a.PhoneNumber(),
		Name:            a.DisplayName(),
		RoleID:          a.RoleID,
		IsEmailVerified: a.IsEmailVerified,
		IsPhoneVerified: a.IsPhoneVerified,
		IsMFAEnabled:    a.IsMFAEnabled,
		MFAMethod:       string(a.MFAMethod),
		HasPassword:     a.HasPassword(),
		HasGoogle:       a.HasGoogle(),
	}
}

type loginResponse struct {
	Message     string       `json:"message"`
	MFARequired bool         `json:"mfaRequired"`
	MFAToken    string       `json:"mfaToken,omitempty"`
	MFAMethod   string       `json:"mfaMethod,omitempty"`
	AccessToken string       `json:"accessToken,omitempty"`
	ExpiresAt   *time.Time   `json:"accessTokenExpiresAt,omitempty"`
	User        *accountView `json:"user,omitempty"`
}

// writeLogin renders a LoginResult. Direct logins set the refresh cookie.
func (s *Server) writeLogin(w http.ResponseWriter, res *venueauth.LoginResult) {
	switch res.Kind {
	case venueauth.LoginMFARequired:
		out := loginResponse{
			Message:     res.Message,
			MFARequired: true,
			MFAToken:    res.MFAToken,
			MFAMethod:   string(res.MFAMethod),
		}
		if res.Account != nil {
			out.User = &accountView{ID: res.Account.ID}
		}
		writeJSON(w, http.StatusOK, out)
	case venueauth.LoginLinkingRequired:
		writeJSON(w, http.StatusOK, map[string]string{
			"message":      res.Message,
			"linkingToken": res.LinkingToken,
			"redirectTo":   res.RedirectTo,
		})
	default:
		s.setRefreshCookie(w, res.Tokens.RefreshToken, res.Tokens.RefreshExpiresAt)
		exp := res.Tokens.AccessExpiresAt
		msg := res.Message
		if msg == "" {
			msg = "Login successful."
		}
		writeJSON(w, http.StatusOK, loginResponse{
			Message:     msg,
			AccessToken: res.Tokens.AccessToken,
			ExpiresAt:   &exp,
			User:        viewOf(res.Account),
		})
	}
}
