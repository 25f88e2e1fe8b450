package panel

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"xsell/caching"
)

// Panel sessions stay valid far longer than this; 30 minutes keeps the
// cache comfortably fresh while avoiding a login per call.
const sessionTTL = 30 * time.Minute

var (
	sessionCache *caching.Cache
	sessionOnce  sync.Once
)

func sessions() *caching.Cache {
	sessionOnce.Do(func() {
		sessionCache = caching.NewCache()
		_ = sessionCache.Init(sessionTTL)
	})
	return sessionCache
}

func sessionKey(serverId int) string {
	return fmt.Sprintf("panel-session-%d", serverId)
}

// loadSession seeds a fresh cookie jar with the cached session cookies of
// a server, if any. Returns false when a login is needed.
func loadSession(serverId int, jar http.CookieJar, base *url.URL) bool {
	v, ok := sessions().Memory().Get(sessionKey(serverId))
	if !ok {
		return false
	}
	cookies, ok := v.([]*http.Cookie)
	if !ok || len(cookies) == 0 {
		return false
	}
	jar.SetCookies(base, cookies)
	return true
}

// storeSession caches the session cookies a login produced.
func storeSession(serverId int, jar http.CookieJar, base *url.URL) {
	cookies := jar.Cookies(base)
	if len(cookies) == 0 {
		return
	}
	sessions().Memory().Set(sessionKey(serverId), cookies, sessionTTL)
}

// dropSession forgets a cached session, typically after a 401.
func dropSession(serverId int) {
	sessions().Memory().Delete(sessionKey(serverId))
}
