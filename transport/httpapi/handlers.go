package httpapi

import (
	"net/http"
	"strings"

	"github.com/MrEthical07/venueauth"
	"github.com/MrEthical07/venueauth/internal"
	"github.com/MrEthical07/venueauth/middleware"
	"github.com/google/uuid"
)

const oauthStateCookie = "oauth_state"

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.LoginEmailPassword(r.Context(), req.Identifier, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeLogin(w, res)
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

func (s *Server) loginPhone(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.LoginPhone(r.Context(), req.Phone)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeLogin(w, res)
}

type verifyMFARequest struct {
	MFAToken string `json:"mfaToken"`
	OTP      string `json:"otp"`
}

func (s *Server) verifyMFA(w http.ResponseWriter, r *http.Request) {
	var req verifyMFARequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.VerifyLoginOTP(r.Context(), req.MFAToken, req.OTP)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeLogin(w, res)
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.Register(r.Context(), venueauth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Phone:    req.Phone,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.setRefreshCookie(w, res.Tokens.RefreshToken, res.Tokens.RefreshExpiresAt)
	exp := res.Tokens.AccessExpiresAt
	writeJSON(w, http.StatusCreated, loginResponse{
		Message:     "Registration successful. Please check your email to verify your account.",
		AccessToken: res.Tokens.AccessToken,
		ExpiresAt:   &exp,
		User:        viewOf(res.Account),
	})
}

func (s *Server) verifyEmail(w http.ResponseWriter, r *http.Request) {
	account, err := s.engine.VerifyEmail(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Email verified successfully.",
		"user":    viewOf(account),
	})
}

func (s *Server) resendVerification(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PayloadFromContext(r.Context())
	if err := s.engine.ResendEmailVerification(r.Context(), p.AccountID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Verification email sent.")
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// forgotPassword answers the same way whether or not the e-mail is known.
func (s *Server) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.RequestPasswordReset(r.Context(), req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "If an account exists for that email, a reset link has been sent.")
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.clearRefreshCookie(w)
	writeMessage(w, http.StatusOK, "Password has been reset. Please log in.")
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

// decodeOptional accepts an empty body.
func decodeOptional(r *http.Request, dst any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return decode(r, dst)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeOptional(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	token := s.refreshTokenFrom(r, req.RefreshToken)
	if token == "" {
		writeMessage(w, http.StatusUnauthorized, "Refresh token is required.")
		return
	}
	pair, err := s.engine.Refresh(r.Context(), token)
	if err != nil {
		s.clearRefreshCookie(w)
		s.writeError(w, r, err)
		return
	}
	s.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":          pair.AccessToken,
		"accessTokenExpiresAt": pair.AccessExpiresAt,
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeOptional(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.clearRefreshCookie(w)
	token := s.refreshTokenFrom(r, req.RefreshToken)
	if token == "" {
		writeMessage(w, http.StatusOK, "Logged out.")
		return
	}
	if err := s.engine.Logout(r.Context(), token); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Logged out.")
}

func (s *Server) logoutAll(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PayloadFromContext(r.Context())
	n, err := s.engine.LogoutAll(r.Context(), p.AccountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Logged out everywhere.", "revoked": n})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PayloadFromContext(r.Context())
	account, err := s.engine.Account(r.Context(), p.AccountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(account))
}

func (s *Server) googleStart(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	url, err := s.engine.GoogleAuthURL(state)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/google",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   s.cfg.RefreshCookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, url, http.StatusFound)
}

// googleCallback checks the state cookie, then either redirects to the
// linking page or signs the user in and redirects to the dashboard.
func (s *Server) googleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" ||
		!internal.EqualCodes(cookie.Value, q.Get("state")) {
		writeMessage(w, http.StatusBadRequest, "Invalid OAuth state.")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Path: "/auth/google", MaxAge: -1})

	code := q.Get("code")
	if code == "" {
		writeMessage(w, http.StatusBadRequest, "Authorization code missing.")
		return
	}
	res, err := s.engine.LoginWithGoogle(r.Context(), code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res.Kind == venueauth.LoginLinkingRequired {
		http.Redirect(w, r, res.RedirectTo, http.StatusFound)
		return
	}
	s.setRefreshCookie(w, res.Tokens.RefreshToken, res.Tokens.RefreshExpiresAt)
	dashboard := strings.TrimRight(s.engine.Config().App.UserWebURL, "/") + s.cfg.DashboardPath
	http.Redirect(w, r, dashboard, http.StatusFound)
}

type linkRequest struct {
	LinkingToken string `json:"linkingToken"`
}

// linkGoogle attaches the pending Google identity to the signed-in account.
func (s *Server) linkGoogle(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PayloadFromContext(r.Context())
	var req linkRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.LinkAccount(r.Context(), p.AccountID, req.LinkingToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeLogin(w, res)
}

func (s *Server) unlinkGoogle(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PayloadFromContext(r.Context())
	account, err := s.engine.UnlinkGoogleAccount(r.Context(), p.AccountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Google account unlinked.", "user": viewOf(account)})
}

type mfaRequest struct {
	Method string `json:"method"`
}

func (s *Server) enableMFA(w http.ResponseWriter, r *http.Request) {
	var req mfaRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, _ := middleware.PayloadFromContext(r.Context())
	account, err := s.engine.EnableMFA(r.Context(), p.AccountID, venueauth.MFAMethod(strings.ToUpper(req.Method)))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "MFA enabled.", "user": viewOf(account)})
}

func (s *Server) disableMFA(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PayloadFromContext(r.Context())
	account, err := s.engine.DisableMFA(r.Context(), p.AccountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "MFA disabled.", "user": viewOf(account)})
}

func (s *Server) sendPhoneOTP(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, _ := middleware.PayloadFromContext(r.Context())
	if err := s.engine.SendPhoneVerificationOTP(r.Context(), p.AccountID, req.Phone); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Verification code sent.")
}

type otpRequest struct {
	OTP string `json:"otp"`
}

func (s *Server) verifyPhoneOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, _ := middleware.PayloadFromContext(r.Context())
	account, err := s.engine.VerifyPhoneVerificationOTP(r.Context(), p.AccountID, req.OTP)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Phone number verified.", "user": viewOf(account)})
}
