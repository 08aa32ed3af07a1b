package auth

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/planograma/internal/logging"
	"github.com/yourusername/planograma/internal/metrics"
)

// LoginPage は GET /login のハンドラーです。ログイン済みならホームへ戻します。
func (m *Manager) LoginPage(c *gin.Context) {
	if token := tokenFromCookie(c); token != "" {
		if _, err := m.service.RequireSession(c.Request.Context(), token); err == nil {
			c.Redirect(http.StatusFound, homePath)
			return
		}
	}
	m.renderLogin(c, http.StatusOK, nil, "")
}

// Login は POST /login のハンドラーです。
// email/senha のほか username/password も受け付けます。
func (m *Manager) Login(c *gin.Context) {
	ctx := c.Request.Context()
	ip := c.ClientIP()
	log := logging.FromContext(c, m.logger).WithField("client_ip", ip)

	// Cookie を伴わないクロスサイトの POST でも別アカウントへログインさせない
	if !validCSRF(c) {
		log.Warn("login rejected: csrf token mismatch")
		metrics.RecordLogin(metrics.LoginRejected)
		m.renderLogin(c, http.StatusForbidden, ErrCSRFInvalid, "")
		return
	}

	email := strings.TrimSpace(firstNonEmpty(c.PostForm(formEmail), c.PostForm("username")))
	password := firstNonEmpty(c.PostForm(formPassword), c.PostForm("password"))
	if email == "" || password == "" {
		metrics.RecordLogin(metrics.LoginRejected)
		m.renderLogin(c, http.StatusBadRequest, ErrValidation, email)
		return
	}

	if m.throttle != nil {
		retryAfter, err := m.throttle.CheckLock(ctx, ip)
		if err != nil {
			// 試行制限の障害ではログインを止めない
			log.WithError(err).Warn("login throttle unavailable")
		}
		if retryAfter > 0 {
			metrics.RecordLogin(metrics.LoginThrottled)
			seconds := int64(retryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.FormatInt(seconds, 10))
			m.renderLogin(c, http.StatusTooManyRequests, ErrTooManyAttempts, email)
			return
		}
	}

	record, err := m.service.Authenticate(ctx, email, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			metrics.RecordLogin(metrics.LoginInvalid)
			if m.throttle != nil {
				if _, ferr := m.throttle.RecordFailure(ctx, ip); ferr != nil {
					log.WithError(ferr).Warn("failed to record login failure")
				}
			}
		} else {
			metrics.RecordLogin(metrics.LoginInfraFailed)
			var authErr *Error
			if errors.As(err, &authErr) && authErr.Retryable() {
				log.WithError(err).Warn("login unavailable; client may retry")
			} else {
				log.WithError(err).Error("login failed")
			}
		}
		m.renderLogin(c, http.StatusOK, err, email)
		return
	}

	if m.throttle != nil {
		if err := m.throttle.Reset(ctx, ip); err != nil {
			log.WithError(err).Warn("failed to reset login throttle")
		}
	}

	// 以前のトークンが残っていれば破棄してから新しいトークンを発行する
	if old := tokenFromCookie(c); old != "" && old != record.Token {
		if err := m.service.DestroySession(ctx, old); err != nil {
			log.WithError(err).Warn("failed to destroy previous session")
		}
	}
	if err := m.issueCookie(c, record.Token); err != nil {
		log.WithError(err).Error("failed to write session cookie")
		_ = m.service.DestroySession(ctx, record.Token)
		metrics.RecordLogin(metrics.LoginInfraFailed)
		m.renderLogin(c, http.StatusOK, ErrSessionUnavailable, email)
		return
	}

	metrics.RecordLogin(metrics.LoginSucceeded)
	c.Redirect(http.StatusSeeOther, homePath)
}

// Logout は GET/POST /logout のハンドラーです。何度呼ばれてもログイン画面へ戻します。
func (m *Manager) Logout(c *gin.Context) {
	log := logging.FromContext(c, m.logger)
	if token := tokenFromCookie(c); token != "" {
		if err := m.service.DestroySession(c.Request.Context(), token); err != nil {
			log.WithError(err).Error("failed to destroy session")
		}
	}
	if err := m.clearCookie(c); err != nil {
		log.WithError(err).Error("failed to clear session cookie")
	}
	c.Redirect(http.StatusSeeOther, loginPath)
}

// SwitchStore は POST /trocar-loja のハンドラーです。RequireLogin の後ろに置きます。
// 結果にかかわらずホームへリダイレクトします。
func (m *Manager) SwitchStore(c *gin.Context) {
	record, ok := CurrentSession(c)
	if !ok {
		c.Redirect(http.StatusSeeOther, homePath)
		return
	}

	log := logging.FromContext(c, m.logger).WithField("user_id", record.UserID)

	if !validCSRF(c) {
		log.Warn("store switch rejected: csrf token mismatch")
		metrics.RecordStoreSwitch(false)
		c.Redirect(http.StatusSeeOther, homePath)
		return
	}

	storeID, err := strconv.ParseInt(strings.TrimSpace(c.PostForm("id_loja")), 10, 64)
	if err != nil {
		metrics.RecordStoreSwitch(false)
		c.Redirect(http.StatusSeeOther, homePath)
		return
	}

	if _, err := m.service.SwitchActiveStore(c.Request.Context(), record.Token, storeID); err != nil {
		log.WithError(err).Warn("store switch failed")
	}
	c.Redirect(http.StatusSeeOther, homePath)
}

// renderLogin はログイン画面を描画します。err が nil ならエラー表示はしません。
func (m *Manager) renderLogin(c *gin.Context, status int, err error, email string) {
	message := ""
	if err != nil {
		message = ErrStoreLookupFailed.Message
		var authErr *Error
		if errors.As(err, &authErr) {
			message = authErr.Message
		}
	}
	csrf, csrfErr := CSRFToken(c)
	if csrfErr != nil {
		logging.FromContext(c, m.logger).WithError(csrfErr).Error("failed to issue csrf token")
	}
	c.HTML(status, loginTmpl, gin.H{
		"error": message,
		"email": email,
		"csrf":  csrf,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
