package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/planograma/internal/session"
)

const (
	// SessionCookieName はセッショントークンを運ぶ Cookie の名前です。
	SessionCookieName = "pv2_session"
	sessionKeyToken   = "token"
	sessionKeyCSRF    = "csrf_token"

	// CSRFField はフォームに埋め込む CSRF トークンのフィールド名です。
	CSRFField  = "csrf_token"
	csrfHeader = "X-CSRF-Token"

	// ContextSessionKey はハンドラー間でログイン中のセッションを共有するためのキーです。
	ContextSessionKey = "auth.session"

	loginPath    = "/login"
	homePath     = "/"
	loginTmpl    = "login.html"
	formEmail    = "email"
	formPassword = "senha"
)

// CookieOptions はセッション Cookie の属性を返します。
// HttpOnly と SameSite=Lax は固定で、有効期間はセッションの TTL と同じです。
func CookieOptions(ttl time.Duration, secure bool) sessions.Options {
	return sessions.Options{
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Manager は認証まわりの HTTP ハンドラーをまとめた構造体です。
type Manager struct {
	service  *Service
	throttle *Throttle
	cookie   sessions.Options
	logger   logrus.FieldLogger
}

// NewManager は認証マネージャーを作成します。throttle が nil の場合は試行制限を行いません。
func NewManager(service *Service, throttle *Throttle, cookie sessions.Options, logger logrus.FieldLogger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		service:  service,
		throttle: throttle,
		cookie:   cookie,
		logger:   logger,
	}
}

// CurrentSession は RequireLogin が格納したセッションを返します。
func CurrentSession(c *gin.Context) (*session.Record, bool) {
	v, ok := c.Get(ContextSessionKey)
	if !ok {
		return nil, false
	}
	record, ok := v.(*session.Record)
	return record, ok && record != nil
}

func tokenFromCookie(c *gin.Context) string {
	token, _ := sessions.Default(c).Get(sessionKeyToken).(string)
	return token
}

// CSRFToken は Cookie セッションに保持した CSRF トークンを返します。
// まだ無ければ発行して保存します。
func CSRFToken(c *gin.Context) (string, error) {
	s := sessions.Default(c)
	if token, ok := s.Get(sessionKeyCSRF).(string); ok && token != "" {
		return token, nil
	}
	token, err := generateCSRFToken()
	if err != nil {
		return "", err
	}
	s.Set(sessionKeyCSRF, token)
	if err := s.Save(); err != nil {
		return "", err
	}
	return token, nil
}

// validCSRF はフォーム値（または X-CSRF-Token ヘッダー）が Cookie セッションのトークンと一致するかを返します。
func validCSRF(c *gin.Context) bool {
	expected, ok := sessions.Default(c).Get(sessionKeyCSRF).(string)
	if !ok || expected == "" {
		return false
	}
	received := c.PostForm(CSRFField)
	if received == "" {
		received = c.GetHeader(csrfHeader)
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(received)) == 1
}

func generateCSRFToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// トークンを Cookie に書き込む。ログインごとに CSRF トークンも新しくする
func (m *Manager) issueCookie(c *gin.Context, token string) error {
	csrf, err := generateCSRFToken()
	if err != nil {
		return err
	}
	s := sessions.Default(c)
	s.Clear()
	s.Set(sessionKeyToken, token)
	s.Set(sessionKeyCSRF, csrf)
	s.Options(m.cookie)
	return s.Save()
}

// Cookie を破棄するよう指示する
func (m *Manager) clearCookie(c *gin.Context) error {
	s := sessions.Default(c)
	s.Clear()
	expired := m.cookie
	expired.MaxAge = -1
	s.Options(expired)
	return s.Save()
}
