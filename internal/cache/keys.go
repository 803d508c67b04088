package cache

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// encodeReplacer maps the base64 characters that are unsafe in key
// namespaces ('/', '+', '=') to '_'.
var encodeReplacer = strings.NewReplacer("/", "_", "+", "_", "=", "_")

// EncodeComponent derives an ASCII-safe key component from user content.
// User-supplied strings must never appear verbatim in cache keys.
func EncodeComponent(s string) string {
	return encodeReplacer.Replace(base64.StdEncoding.EncodeToString([]byte(s)))
}

// Key builders for each cache domain. Identifiers (UUIDs, user ids, app
// names) are used as-is; free-form content goes through EncodeComponent.

func UserKey(userID string) string {
	return "user:" + userID
}

func SessionKey(sessionID string) string {
	return "session:" + sessionID
}

func SessionSummaryKey(sessionID string) string {
	return "session_summary:" + sessionID
}

func MessagesKey(sessionID string, limit int) string {
	return fmt.Sprintf("messages:%s:%d", sessionID, limit)
}

func ConversationsKey(sessionID string) string {
	return "conversations:" + sessionID
}

func AnalysisKey(fingerprint string) string {
	return "analysis:" + fingerprint
}

func RoutingKey(query string) string {
	return "app_routing:" + EncodeComponent(query)
}

func ToolSearchKey(appName, query string) string {
	return "tool_search:" + appName + ":" + EncodeComponent(query)
}

func ConnectionStatusKey(userID, appName string) string {
	return "connection_status:" + userID + ":" + appName
}

func UserConnectionsKey(userID string) string {
	return "user_connections:" + userID
}
