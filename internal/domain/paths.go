package domain

import (
	"net/url"
	"strings"
)

func segment(s string) string {
	return url.PathEscape(s)
}

// QuotaPath is where a user's quota record lives
func QuotaPath(userID string) string {
	return "users/" + segment(userID) + "/models"
}

// NamespacePath holds every session of a user for one model
func NamespacePath(userID string, model Model) string {
	return "chats/" + segment(userID) + "/" + segment(string(model))
}

// SessionPath is the session node; its document records the creation time
func SessionPath(userID string, model Model, sessionID string) string {
	return NamespacePath(userID, model) + "/" + segment(sessionID)
}

// MessagesPath is the parent of all messages of a session
func MessagesPath(userID string, model Model, sessionID string) string {
	return SessionPath(userID, model, sessionID) + "/messages"
}

// MessagePath addresses a single message
func MessagePath(userID string, model Model, sessionID, messageID string) string {
	return MessagesPath(userID, model, sessionID) + "/" + segment(messageID)
}

// SplitPath returns the parent path and the last segment
func SplitPath(path string) (parent, key string) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// UnescapeKey turns a stored path segment back into an id
func UnescapeKey(key string) string {
	if s, err := url.PathUnescape(key); err == nil {
		return s
	}
	return key
}
