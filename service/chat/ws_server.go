package chat

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"PRelay/middleware/security"
)

// Origin policy is enforced by middleware.Origin before the upgrade.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const maxMetaLen = 200

// HandleWS upgrades the request and runs the session until it closes.
func (s *Server) HandleWS(c *gin.Context) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": textServerShutdown})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the http error
		s.log.Info("websocket upgrade failed", zap.String("remote", c.ClientIP()), zap.Error(err))
		return
	}
	s.Serve(ws, MetaFromRequest(c), security.Token(c))
}

// MetaFromRequest reads connection metadata from headers, falling back to
// query parameters.
func MetaFromRequest(c *gin.Context) Meta {
	pick := func(header, query string) string {
		v := strings.TrimSpace(c.GetHeader(header))
		if v == "" {
			v = strings.TrimSpace(c.Query(query))
		}
		return truncate(v, maxMetaLen)
	}
	platform := pick("X-Client-Platform", "platform")
	if platform == "" {
		platform = pick("User-Agent", "")
	}
	return Meta{
		ConversationID: pick("X-Conversation-Id", "conversation_id"),
		ClientVersion:  pick("X-Client-Version", "client_version"),
		Platform:       platform,
		Remote:         c.ClientIP(),
	}
}

// truncate cuts v to at most n bytes without splitting a rune.
func truncate(v string, n int) string {
	if len(v) <= n {
		return v
	}
	for n > 0 && !utf8.RuneStart(v[n]) {
		n--
	}
	return v[:n]
}
