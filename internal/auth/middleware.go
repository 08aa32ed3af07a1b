package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/planograma/internal/logging"
	"github.com/yourusername/planograma/internal/metrics"
)

// RequireLogin はセッションを検証するミドルウェアを返します。
// 有効なセッションがなければ常に /login へリダイレクトし、保護された状態は返しません。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := tokenFromCookie(c)
		record, err := m.service.RequireSession(c.Request.Context(), token)
		if err != nil {
			// 未登録・失効したトークンのときだけ Cookie を消す。
			// 保存先の障害ではセッションが残っているので Cookie は維持する
			stale := token != ""
			var authErr *Error
			if errors.As(err, &authErr) && authErr.Err != nil {
				logging.FromContext(c, m.logger).WithError(authErr.Err).Error("session lookup failed")
				stale = false
			}
			if stale && errors.Is(err, ErrUnauthenticated) {
				_ = m.clearCookie(c)
			}
			metrics.RecordGuardRedirect()
			c.Redirect(http.StatusFound, loginPath)
			c.Abort()
			return
		}

		c.Set(ContextSessionKey, record)
		c.Next()
	}
}
